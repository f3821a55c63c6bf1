package apperrors

import (
	"errors"
)

// Error kinds
// Every error returned by services unwraps to one of them, handlers map kinds to status codes
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
)

var (
	ErrAccountNotFound = New(ErrNotFound, "account not found")
	ErrAccountExists   = New(ErrConflict, "account with this email already exists")
	ErrEmailTaken      = New(ErrConflict, "another account with this email already exists")

	ErrInvalidCredentials = New(ErrUnauthorized, "invalid credentials")
	ErrInvalidPassword    = New(ErrUnauthorized, "invalid current password")
	ErrNotAccountOwner    = New(ErrUnauthorized, "account does not belong to the caller")
	ErrAdminRequired      = New(ErrUnauthorized, "admin role required")

	ErrTokenMissing        = New(ErrUnauthorized, "missing or invalid authorization header")
	ErrTokenInvalid        = New(ErrUnauthorized, "invalid or malformed token")
	ErrTokenType           = New(ErrUnauthorized, "invalid token type")
	ErrAccessTokenExpired  = New(ErrUnauthorized, "access token has expired")
	ErrRefreshTokenRevoked = New(ErrUnauthorized, "refresh token is revoked or reused")
	ErrRefreshTokenExpired = New(ErrUnauthorized, "refresh token expired (max lifetime)")

	ErrInvalidAction              = New(ErrInvalidArgument, "action is invalid")
	ErrInvalidVerificationToken   = New(ErrInvalidArgument, "invalid verification token")
	ErrVerificationTokenExpired   = New(ErrInvalidArgument, "verification token expired")
	ErrInvalidAuthenticationToken = New(ErrInvalidArgument, "invalid authentication token")
	ErrAuthenticationTokenExpired = New(ErrInvalidArgument, "authentication token expired")
	ErrInvalidResetToken          = New(ErrInvalidArgument, "invalid reset token")
	ErrResetTokenExpired          = New(ErrInvalidArgument, "reset token expired")
	ErrMissingNewPassword         = New(ErrInvalidArgument, "missing new password")
	ErrMissingNewEmail            = New(ErrInvalidArgument, "missing new email")
	ErrSameEmail                  = New(ErrInvalidArgument, "new email cannot be the same as current email")
)

type appError struct {
	kind error
	msg  string
}

// New returns an error with message msg that matches kind with errors.Is
func New(kind error, msg string) error {
	return &appError{kind: kind, msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) Unwrap() error {
	return e.kind
}

// Message returns the innermost application message of err
// If err does not carry one, the kind message is returned; unknown errors give fallback
func Message(err error, fallback string) string {
	var ae *appError
	if errors.As(err, &ae) {
		return ae.msg
	}

	for _, kind := range []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrInvalidArgument} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}

	return fallback
}
