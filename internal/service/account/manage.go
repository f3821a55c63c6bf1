package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/onetime"
)

type Action string

const (
	ActionStartEmailVerification    Action = "start-email-verification"
	ActionFinishEmailVerification   Action = "finish-email-verification"
	ActionStartEmailAuthentication  Action = "start-email-authentication"
	ActionFinishEmailAuthentication Action = "finish-email-authentication"
	ActionStartPasswordReset        Action = "start-password-reset"
	ActionFinishPasswordReset       Action = "finish-password-reset"
	ActionUpdateEmail               Action = "update-email"
	ActionUpdatePassword            Action = "update-password"
)

type ManagePayload struct {
	Email       string // current email of the account, required
	Token       string
	NewEmail    string
	Password    string // current password
	NewPassword string

	// Authenticated caller, uuid.Nil for internal calls
	// If set update-email and update-password are allowed on caller own account only
	Caller uuid.UUID
}

type Result struct {
	Message string
	Account models.Account
}

// Action mutates account in place
// Returned notification, if any, is sent after commit
type actionFunc func(a *models.Account, p *request) (outcome, error)

// Payload with password work done before the transaction
type request struct {
	ManagePayload

	// Hash of NewPassword
	newHash string

	// Stored hash the current Password was verified against
	checkedHash string
}

type outcome struct {
	message string
	changed bool
	notify  *Notification
}

func (s *Service) actionTable() map[Action]actionFunc {
	return map[Action]actionFunc{
		ActionStartEmailVerification:    s.startEmailVerification,
		ActionFinishEmailVerification:   s.finishEmailVerification,
		ActionStartEmailAuthentication:  s.startEmailAuthentication,
		ActionFinishEmailAuthentication: s.finishEmailAuthentication,
		ActionStartPasswordReset:        s.startPasswordReset,
		ActionFinishPasswordReset:       s.finishPasswordReset,
		ActionUpdateEmail:               s.updateEmail,
		ActionUpdatePassword:            s.updatePassword,
	}
}

var ownerOnly = map[Action]bool{
	ActionUpdateEmail:    true,
	ActionUpdatePassword: true,
}

// Run account action
// Lookup, checks and the write happen in one transaction with the row locked
func (s *Service) Manage(ctx context.Context, action Action, p ManagePayload) (Result, error) {
	var (
		result Result
		notify *Notification
	)

	req, err := s.prepare(ctx, action, p)
	if err != nil {
		return Result{}, err
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		account, err := tx.Account().GetByEmail(ctx, p.Email, repository.ForUpdate())
		if err != nil {
			return err
		}

		handle, ok := s.actions[action]
		if !ok {
			return apperrors.New(apperrors.ErrInvalidAction, fmt.Sprintf("Error: Action - %s is invalid.", action))
		}

		if ownerOnly[action] && p.Caller != uuid.Nil && p.Caller != account.ID {
			return apperrors.ErrNotAccountOwner
		}

		out, err := handle(&account, req)
		if err != nil {
			return err
		}

		if out.changed {
			account, err = tx.Account().Update(ctx, account)
			if err != nil {
				return err
			}
		}

		result = Result{Message: out.message, Account: account}
		notify = out.notify
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("account action done", "action", action, "account_id", result.Account.ID)

	if notify != nil {
		notify.AccountID = result.Account.ID
		notify.Email = result.Account.Email
		if err := s.notifier.Notify(ctx, *notify); err != nil {
			s.logger.Error("can't deliver one-time token", "action", action, "account_id", result.Account.ID, "error", err)
		}
	}

	return result, nil
}

// Hash and compare passwords outside the transaction, bcrypt is slow
func (s *Service) prepare(ctx context.Context, action Action, p ManagePayload) (*request, error) {
	req := &request{ManagePayload: p}

	switch action {
	case ActionFinishPasswordReset, ActionUpdatePassword:
	default:
		return req, nil
	}
	if p.NewPassword == "" {
		return req, nil
	}

	hash, err := s.hasher.Hash(p.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("can't use this as password, Err: %w", err)
	}
	req.newHash = hash

	if action == ActionUpdatePassword && p.Password != "" {
		// Missing account is reported by the transaction lookup
		account, err := s.storage.Account().GetByEmail(ctx, p.Email)
		if err == nil && s.hasher.Compare(account.PasswordHash, p.Password) == nil {
			req.checkedHash = account.PasswordHash
		}
	}

	return req, nil
}

func (s *Service) issue(kind TokenKind, slot *models.OneTimeToken) (*Notification, error) {
	token, err := s.tokens.Generate(kind.TTL())
	if err != nil {
		return nil, err
	}

	*slot = token
	return &Notification{Kind: kind, Token: token}, nil
}

// Match presented token against slot, empty slot never matches
func (s *Service) redeem(slot *models.OneTimeToken, presented string, invalid, expired error) error {
	switch s.tokens.Check(*slot, presented) {
	case onetime.Mismatch:
		return invalid
	case onetime.Expired:
		return expired
	}

	*slot = models.OneTimeToken{}
	return nil
}

func (s *Service) startEmailVerification(a *models.Account, p *request) (outcome, error) {
	if a.IsVerified {
		return outcome{message: "User is already verified"}, nil
	}

	note, err := s.issue(TokenVerification, &a.Verification)
	if err != nil {
		return outcome{}, err
	}
	return outcome{message: "Verification token sent", changed: true, notify: note}, nil
}

func (s *Service) finishEmailVerification(a *models.Account, p *request) (outcome, error) {
	err := s.redeem(&a.Verification, p.Token, apperrors.ErrInvalidVerificationToken, apperrors.ErrVerificationTokenExpired)
	if err != nil {
		return outcome{}, err
	}

	a.IsVerified = true
	return outcome{message: "Email successfully verified", changed: true}, nil
}

func (s *Service) startEmailAuthentication(a *models.Account, p *request) (outcome, error) {
	note, err := s.issue(TokenAuthentication, &a.Authentication)
	if err != nil {
		return outcome{}, err
	}
	return outcome{message: "Authentication token sent", changed: true, notify: note}, nil
}

func (s *Service) finishEmailAuthentication(a *models.Account, p *request) (outcome, error) {
	err := s.redeem(&a.Authentication, p.Token, apperrors.ErrInvalidAuthenticationToken, apperrors.ErrAuthenticationTokenExpired)
	if err != nil {
		return outcome{}, err
	}

	now := s.now()
	a.AuthenticatedAt = &now
	return outcome{message: "Authentication successful", changed: true}, nil
}

func (s *Service) startPasswordReset(a *models.Account, p *request) (outcome, error) {
	note, err := s.issue(TokenReset, &a.Reset)
	if err != nil {
		return outcome{}, err
	}
	return outcome{message: "Password reset token sent", changed: true, notify: note}, nil
}

func (s *Service) finishPasswordReset(a *models.Account, p *request) (outcome, error) {
	err := s.redeem(&a.Reset, p.Token, apperrors.ErrInvalidResetToken, apperrors.ErrResetTokenExpired)
	if err != nil {
		return outcome{}, err
	}
	if p.NewPassword == "" {
		return outcome{}, apperrors.ErrMissingNewPassword
	}

	a.PasswordHash = p.newHash
	return outcome{message: "Password has been reset successfully", changed: true}, nil
}

func (s *Service) updateEmail(a *models.Account, p *request) (outcome, error) {
	if p.NewEmail == "" {
		return outcome{}, apperrors.ErrMissingNewEmail
	}
	if p.NewEmail == a.Email {
		return outcome{}, apperrors.ErrSameEmail
	}

	a.Email = p.NewEmail
	a.IsVerified = false
	note, err := s.issue(TokenVerification, &a.Verification)
	if err != nil {
		return outcome{}, err
	}
	return outcome{message: "Email updated and verification required", changed: true, notify: note}, nil
}

func (s *Service) updatePassword(a *models.Account, p *request) (outcome, error) {
	if p.NewPassword == "" {
		return outcome{}, apperrors.ErrMissingNewPassword
	}
	// Empty checkedHash: wrong password; mismatch: password changed after the check
	if p.checkedHash == "" || p.checkedHash != a.PasswordHash {
		return outcome{}, apperrors.ErrInvalidPassword
	}

	a.PasswordHash = p.newHash
	return outcome{message: "Password updated successfully", changed: true}, nil
}
