package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/repository/memory"
	"github.com/nkiryanov/identity/internal/service/auth/revocation"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/identity/internal/testutil"
)

// Compare blocks until released
type blockingHasher struct {
	BcryptHasher
	entered chan struct{}
	release chan struct{}
}

func (h blockingHasher) Compare(hashedPassword string, password string) error {
	h.entered <- struct{}{}
	<-h.release
	return h.BcryptHasher.Compare(hashedPassword, password)
}

func Test_Auth(t *testing.T) {
	type env struct {
		service *AuthService
		storage *memory.Storage
		clock   *testutil.Clock
		account models.Account
	}

	// Memory storage with one account 'nk@example.com' / 'password'
	setup := func(t *testing.T) env {
		t.Helper()

		hasher := BcryptHasher{Cost: bcrypt.MinCost}
		clock := testutil.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
		storage := memory.NewStorage()

		tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key", Now: clock.Time}, revocation.New())
		require.NoError(t, err, "token manager should be created without errors")

		s, err := NewAuthService(AuthServiceConfig{Hasher: hasher, Now: clock.Time}, storage, tokens, logger.NewNoOpLogger())
		require.NoError(t, err, "auth service could't be started", err)

		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		account, err := storage.Account().Create(t.Context(), repository.CreateAccountParams{Email: "nk@example.com", PasswordHash: hash})
		require.NoError(t, err)

		return env{service: s, storage: storage, clock: clock, account: account}
	}

	bearer := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		return r
	}

	t.Run("new auth service requires deps", func(t *testing.T) {
		_, err := NewAuthService(AuthServiceConfig{}, nil, nil, logger.NewNoOpLogger())
		require.Error(t, err)
	})

	t.Run("validate ok", func(t *testing.T) {
		e := setup(t)

		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		assert.Equal(t, e.account.ID, session.Account.ID)
		assert.NotEmpty(t, session.Pair.Access.Value)
		assert.NotEmpty(t, session.Pair.Refresh.Value)
		require.NotNil(t, session.Account.AuthenticatedAt)
		assert.Equal(t, e.clock.Time(), *session.Account.AuthenticatedAt)

		stored, err := e.storage.Account().GetByID(t.Context(), e.account.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.AuthenticatedAt, "authenticated_at must be persisted")
	})

	t.Run("validate compares password outside transaction", func(t *testing.T) {
		e := setup(t)
		hasher := blockingHasher{
			BcryptHasher: BcryptHasher{Cost: bcrypt.MinCost},
			entered:      make(chan struct{}, 1),
			release:      make(chan struct{}),
		}
		tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key"}, revocation.New())
		require.NoError(t, err)
		s, err := NewAuthService(AuthServiceConfig{Hasher: hasher}, e.storage, tokens, logger.NewNoOpLogger())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := s.Validate(t.Context(), "nk@example.com", "password")
			done <- err
		}()
		<-hasher.entered

		txDone := make(chan error, 1)
		go func() {
			txDone <- e.storage.InTx(t.Context(), func(tx repository.Storage) error {
				_, err := tx.Account().GetByEmail(t.Context(), "nk@example.com")
				return err
			})
		}()
		select {
		case err := <-txDone:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("storage transaction blocked by password compare")
		}

		close(hasher.release)
		require.NoError(t, <-done)
	})

	t.Run("validate fails after password changed", func(t *testing.T) {
		e := setup(t)
		hasher := blockingHasher{
			BcryptHasher: BcryptHasher{Cost: bcrypt.MinCost},
			entered:      make(chan struct{}, 1),
			release:      make(chan struct{}),
		}
		tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key"}, revocation.New())
		require.NoError(t, err)
		s, err := NewAuthService(AuthServiceConfig{Hasher: hasher}, e.storage, tokens, logger.NewNoOpLogger())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := s.Validate(t.Context(), "nk@example.com", "password")
			done <- err
		}()
		<-hasher.entered

		changed := e.account
		changed.PasswordHash = "another-hash"
		_, err = e.storage.Account().Update(t.Context(), changed)
		require.NoError(t, err)
		close(hasher.release)

		require.ErrorIs(t, <-done, apperrors.ErrInvalidCredentials)
	})

	t.Run("validate fails same way", func(t *testing.T) {
		e := setup(t)

		_, err := e.storage.Account().Create(t.Context(), repository.CreateAccountParams{Email: "off@example.com", PasswordHash: e.account.PasswordHash})
		require.NoError(t, err)
		off, err := e.storage.Account().GetByEmail(t.Context(), "off@example.com")
		require.NoError(t, err)
		off.IsActive = false
		_, err = e.storage.Account().Update(t.Context(), off)
		require.NoError(t, err)

		tests := []struct {
			name     string
			email    string
			password string
		}{
			{"wrong password", "nk@example.com", "wrong"},
			{"unknown email", "who@example.com", "password"},
			{"inactive account", "off@example.com", "password"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.service.Validate(t.Context(), tt.email, tt.password)

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			})
		}
	})

	t.Run("revalidate rotates", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		rotated, err := e.service.Revalidate(t.Context(), session.Pair.Refresh.Value)
		require.NoError(t, err)
		assert.NotEqual(t, session.Pair.Refresh.ID, rotated.Pair.Refresh.ID)
		assert.Equal(t, e.account.ID, rotated.Account.ID)

		_, err = e.service.Revalidate(t.Context(), session.Pair.Refresh.Value)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "replay must fail")

		_, err = e.service.Revalidate(t.Context(), rotated.Pair.Refresh.Value)
		require.NoError(t, err, "new token works")
	})

	t.Run("revalidate deleted account", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)
		_, err = e.storage.Account().SoftDelete(t.Context(), e.account.ID)
		require.NoError(t, err)

		_, err = e.service.Revalidate(t.Context(), session.Pair.Refresh.Value)

		require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
	})

	t.Run("revalidate with access token", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		_, err = e.service.Revalidate(t.Context(), session.Pair.Access.Value)

		require.ErrorIs(t, err, apperrors.ErrTokenType)
	})

	t.Run("invalidate", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		require.NoError(t, e.service.Invalidate(t.Context(), session.Pair.Refresh.Value))
		require.NoError(t, e.service.Invalidate(t.Context(), session.Pair.Refresh.Value), "second call is no-op")

		_, err = e.service.Revalidate(t.Context(), session.Pair.Refresh.Value)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
	})

	t.Run("invalidate garbage", func(t *testing.T) {
		e := setup(t)

		err := e.service.Invalidate(t.Context(), "not-a-token")

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("authenticate", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		principal, err := e.service.Authenticate(t.Context(), bearer(session.Pair.Access.Value))

		require.NoError(t, err)
		assert.Equal(t, e.account.ID, principal.AccountID)
		assert.Equal(t, session.Pair.Access.ID, principal.TokenID)
	})

	t.Run("authenticate fails", func(t *testing.T) {
		e := setup(t)
		session, err := e.service.Validate(t.Context(), "nk@example.com", "password")
		require.NoError(t, err)

		_, err = e.service.Authenticate(t.Context(), httptest.NewRequest(http.MethodGet, "/", nil))
		require.ErrorIs(t, err, apperrors.ErrTokenMissing)

		_, err = e.service.Authenticate(t.Context(), bearer(session.Pair.Refresh.Value))
		require.ErrorIs(t, err, apperrors.ErrTokenType, "refresh token is not access token")

		_, err = e.service.Authenticate(t.Context(), bearer("garbage"))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)

		e.clock.Advance(time.Hour + time.Second)
		_, err = e.service.Authenticate(t.Context(), bearer(session.Pair.Access.Value))
		require.ErrorIs(t, err, apperrors.ErrAccessTokenExpired)
	})
}

func Test_BearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"bearer", "Bearer abc", "abc", true},
		{"lowercase scheme", "bearer abc", "abc", true},
		{"no header", "", "", false},
		{"basic scheme", "Basic abc", "", false},
		{"no token", "Bearer ", "", false},
		{"no space", "Bearerabc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			token, ok := BearerToken(r)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}
