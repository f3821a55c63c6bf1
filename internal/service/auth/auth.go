package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type TokenManager interface {
	IssuePair(subject uuid.UUID) (models.TokenPair, error)
	VerifyAccess(token string) (tokenmanager.Claims, error)
	VerifyRefresh(token string) (tokenmanager.Claims, error)
	RotateRefresh(old string) (models.TokenPair, tokenmanager.Claims, error)
	RevokeRefresh(token string) (tokenmanager.Claims, error)
}

type AuthServiceConfig struct {
	// Hasher to use during login, BcryptHasher if not set
	Hasher PasswordHasher

	// Clock, time.Now if not set
	Now func() time.Time
}

// Login, token refresh and logout
type AuthService struct {
	tokens  TokenManager
	hasher  PasswordHasher
	storage repository.Storage
	logger  logger.Logger
	now     func() time.Time

	// Compared against on unknown email so response time does not reveal account existence
	dummyHash string
}

func NewAuthService(cfg AuthServiceConfig, storage repository.Storage, tokens TokenManager, l logger.Logger) (*AuthService, error) {
	if storage == nil || tokens == nil {
		return nil, errors.New("storage and token manager must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	dummyHash, err := hasher.Hash("dummy-password")
	if err != nil {
		return nil, fmt.Errorf("hasher does not work. Err: %w", err)
	}

	return &AuthService{
		tokens:    tokens,
		hasher:    hasher,
		storage:   storage,
		logger:    l,
		now:       now,
		dummyHash: dummyHash,
	}, nil
}

// Check credentials and issue the new token pair
// Unknown email, inactive account and wrong password are indistinguishable for the caller
// Password is compared before the transaction, inside it the stored hash must be unchanged
func (s *AuthService) Validate(ctx context.Context, email string, password string) (models.Session, error) {
	var session models.Session

	checked, err := s.storage.Account().GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return session, apperrors.ErrInvalidCredentials
	case err != nil:
		return session, err
	}

	if err := s.hasher.Compare(checked.PasswordHash, password); err != nil || !checked.IsActive {
		return session, apperrors.ErrInvalidCredentials
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		account, err := tx.Account().GetByID(ctx, checked.ID, repository.ForUpdate())
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			return apperrors.ErrInvalidCredentials
		case err != nil:
			return err
		}

		// Password changed or account disabled after the check
		if account.PasswordHash != checked.PasswordHash || !account.IsActive {
			return apperrors.ErrInvalidCredentials
		}

		now := s.now()
		account.AuthenticatedAt = &now
		account, err = tx.Account().Update(ctx, account)
		if err != nil {
			return fmt.Errorf("error while updating account. Err: %w", err)
		}

		pair, err := s.tokens.IssuePair(account.ID)
		if err != nil {
			return err
		}

		session = models.Session{Pair: pair, Account: account}
		return nil
	})
	if err != nil {
		return models.Session{}, err
	}

	s.logger.Info("account validated", "account_id", session.Account.ID)
	return session, nil
}

// Rotate refresh token, old one can not be used anymore
func (s *AuthService) Revalidate(ctx context.Context, refresh string) (models.Session, error) {
	claims, err := s.tokens.VerifyRefresh(refresh)
	if err != nil {
		return models.Session{}, err
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return models.Session{}, err
	}

	account, err := s.storage.Account().GetByID(ctx, accountID)
	if err != nil {
		return models.Session{}, err
	}
	if !account.IsActive {
		return models.Session{}, apperrors.ErrInvalidCredentials
	}

	pair, _, err := s.tokens.RotateRefresh(refresh)
	if err != nil {
		return models.Session{}, err
	}

	s.logger.Debug("refresh token rotated", "account_id", account.ID, "jti", claims.ID)
	return models.Session{Pair: pair, Account: account}, nil
}

// Revoke refresh token, it's ok to invalidate the same token many times
func (s *AuthService) Invalidate(ctx context.Context, refresh string) error {
	claims, err := s.tokens.RevokeRefresh(refresh)
	if err != nil {
		return err
	}

	s.logger.Debug("refresh token revoked", "jti", claims.ID)
	return nil
}

// Authenticate request by 'Authorization: Bearer <access token>' header
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (models.Principal, error) {
	token, ok := BearerToken(r)
	if !ok {
		return models.Principal{}, apperrors.ErrTokenMissing
	}

	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return models.Principal{}, err
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return models.Principal{}, err
	}

	return models.Principal{
		AccountID: accountID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
