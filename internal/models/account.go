package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// One-time token stored in account slot
// Zero value means the slot is empty
type OneTimeToken struct {
	Value     string
	ExpiresAt time.Time
}

func (t OneTimeToken) IsZero() bool {
	return t.Value == ""
}

// Token is expired only when now is strictly after ExpiresAt
func (t OneTimeToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type Account struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt *time.Time // nil if account never updated

	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string

	// Free-form profile attributes, never nil when loaded from storage
	MetaData map[string]any

	IsActive   bool
	IsVerified bool

	IsDeleted bool
	DeletedAt *time.Time

	// Last successful login or step-up authentication
	AuthenticatedAt *time.Time

	Verification   OneTimeToken
	Authentication OneTimeToken
	Reset          OneTimeToken
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
