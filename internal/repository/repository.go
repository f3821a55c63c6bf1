package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/models"
)

type CreateAccountParams struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string // models.RoleUser if empty
	MetaData     map[string]any
}

// Filter of non-deleted accounts, empty fields match anything
type FindParams struct {
	Email     string
	FirstName string
	LastName  string

	Offset int
	Limit  int // no limit if zero
}

type GetOptions struct {
	// Return soft-deleted accounts too
	IncludeDeleted bool

	// Lock the row until transaction end (SELECT ... FOR UPDATE)
	ForUpdate bool
}

type GetOption func(*GetOptions)

func IncludeDeleted() GetOption {
	return func(o *GetOptions) { o.IncludeDeleted = true }
}

func ForUpdate() GetOption {
	return func(o *GetOptions) { o.ForUpdate = true }
}

func NewGetOptions(opts ...GetOption) GetOptions {
	var o GetOptions
	for _, option := range opts {
		option(&o)
	}
	return o
}

// Account repository interface
type AccountRepo interface {
	// Create account
	// If non-deleted account with the email exists has to return apperrors.ErrAccountExists
	Create(ctx context.Context, params CreateAccountParams) (models.Account, error)

	// Get account by it's id or email
	// Soft-deleted accounts are skipped unless IncludeDeleted passed
	// If account not found must return apperrors.ErrAccountNotFound
	GetByID(ctx context.Context, id uuid.UUID, opts ...GetOption) (models.Account, error)
	GetByEmail(ctx context.Context, email string, opts ...GetOption) (models.Account, error)

	// List non-deleted accounts matching every set filter, oldest first
	Find(ctx context.Context, params FindParams) ([]models.Account, error)

	// Persist every mutable field of the account and set UpdatedAt
	// If email clashes with another non-deleted account must return apperrors.ErrEmailTaken
	Update(ctx context.Context, account models.Account) (models.Account, error)

	// Mark account deleted
	// If account not found or deleted already must return apperrors.ErrAccountNotFound
	SoftDelete(ctx context.Context, id uuid.UUID) (models.Account, error)
}

type Storage interface {
	Account() AccountRepo

	// Run fn in one atomic unit: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
