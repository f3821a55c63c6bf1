package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/service/onetime"
)

type TokenKind string

const (
	TokenVerification   TokenKind = "verification"
	TokenAuthentication TokenKind = "authentication"
	TokenReset          TokenKind = "reset"
)

func (k TokenKind) TTL() time.Duration {
	switch k {
	case TokenAuthentication:
		return onetime.AuthenticationTTL
	case TokenReset:
		return onetime.ResetTTL
	default:
		return onetime.VerificationTTL
	}
}

// One-time token to be delivered to account owner
type Notification struct {
	AccountID uuid.UUID
	Email     string
	Kind      TokenKind
	Token     models.OneTimeToken
}

// Delivers one-time tokens, e.g. by mail
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notifier that only writes to the log
// Token value is logged on debug level, so it never reaches production logs by default
type LogNotifier struct {
	Logger logger.Logger
}

func (n LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.Logger.Info("one-time token issued",
		"kind", note.Kind,
		"account_id", note.AccountID,
		"email", note.Email,
		"expires_at", note.Token.ExpiresAt,
	)
	n.Logger.Debug("one-time token value", "kind", note.Kind, "account_id", note.AccountID, "token", note.Token.Value)
	return nil
}
