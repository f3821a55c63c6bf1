package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type IssuedToken struct {
	Value     string
	ID        string // jti
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Authenticated caller extracted from a valid access token
type Principal struct {
	AccountID uuid.UUID
	TokenID   string
	ExpiresAt time.Time
}

// Result of successful login or refresh
type Session struct {
	Pair    TokenPair
	Account Account
}
