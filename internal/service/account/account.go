package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/events"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/auth"
	"github.com/nkiryanov/identity/internal/service/onetime"
)

// Emitted after account is stored
// Kwargs: "email" and "account_id"
const EventAccountCreated = "user-created"

type emitter interface {
	EmitWith(event string, kwargs map[string]any, args ...any) string
}

type Config struct {
	// Hasher for new passwords, auth.BcryptHasher if not set
	Hasher auth.PasswordHasher

	// Clock, time.Now if not set
	Now func() time.Time

	// Where issued one-time tokens go, LogNotifier if not set
	Notifier Notifier
}

type CreateParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	MetaData  map[string]any
}

// Fields left nil are not changed
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	MetaData  map[string]any
}

const (
	DefaultFindLimit = 20
	MaxFindLimit     = 100
)

type Service struct {
	storage  repository.Storage
	emitter  emitter
	hasher   auth.PasswordHasher
	tokens   onetime.Generator
	notifier Notifier
	logger   logger.Logger
	now      func() time.Time

	actions map[Action]actionFunc
}

func NewService(cfg Config, storage repository.Storage, emitter emitter, l logger.Logger) (*Service, error) {
	if storage == nil || emitter == nil {
		return nil, errors.New("storage and emitter must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = auth.BcryptHasher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: l}
	}

	s := &Service{
		storage:  storage,
		emitter:  emitter,
		hasher:   cfg.Hasher,
		tokens:   onetime.Generator{Now: cfg.Now},
		notifier: cfg.Notifier,
		logger:   l.With("component", "account"),
		now:      cfg.Now,
	}
	s.actions = s.actionTable()

	return s, nil
}

func (s *Service) Create(ctx context.Context, params CreateParams) (models.Account, error) {
	var account models.Account
	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return account, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	account, err = s.storage.Account().Create(ctx, repository.CreateAccountParams{
		Email:        params.Email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		PasswordHash: hash,
		MetaData:     params.MetaData,
	})
	if err != nil {
		return account, fmt.Errorf("can't create account. Err: %w", err)
	}

	eventID := s.emitter.EmitWith(EventAccountCreated, map[string]any{
		"email":      account.Email,
		"account_id": account.ID.String(),
	}, account.Email)
	s.logger.Info("account created", "account_id", account.ID, "event_id", eventID)

	return account, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return s.storage.Account().GetByID(ctx, id)
}

// List live accounts, limit defaults to DefaultFindLimit and is capped at MaxFindLimit
func (s *Service) Find(ctx context.Context, params repository.FindParams) ([]models.Account, error) {
	params.Offset = max(params.Offset, 0)
	if params.Limit <= 0 {
		params.Limit = DefaultFindLimit
	}
	params.Limit = min(params.Limit, MaxFindLimit)

	return s.storage.Account().Find(ctx, params)
}

// Change owner editable profile fields, email and password have own actions
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (models.Account, error) {
	var account models.Account
	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		var err error
		account, err = tx.Account().GetByID(ctx, id, repository.ForUpdate())
		if err != nil {
			return err
		}

		if upd.FirstName != nil {
			account.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			account.LastName = *upd.LastName
		}
		if upd.MetaData != nil {
			account.MetaData = upd.MetaData
		}

		account, err = tx.Account().Update(ctx, account)
		return err
	})
	if err != nil {
		return account, err
	}

	s.logger.Info("account profile updated", "account_id", account.ID)
	return account, nil
}

// Mark account deleted, its email may be used again
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) (models.Account, error) {
	account, err := s.storage.Account().SoftDelete(ctx, id)
	if err != nil {
		return account, err
	}

	s.logger.Info("account soft deleted", "account_id", account.ID)
	return account, nil
}

// Listener of EventAccountCreated: starts email verification
func (s *Service) OnAccountCreated(ctx context.Context, e events.Event) error {
	email, _ := e.Kwargs["email"].(string)
	if email == "" && len(e.Args) > 0 {
		email, _ = e.Args[0].(string)
	}
	if email == "" {
		return fmt.Errorf("event %s has no email", e.ID)
	}

	result, err := s.Manage(ctx, ActionStartEmailVerification, ManagePayload{Email: email})
	if err != nil {
		return fmt.Errorf("can't start email verification. Err: %w", err)
	}

	s.logger.Debug("account created event handled", "event_id", e.ID, "result", result.Message)
	return nil
}
