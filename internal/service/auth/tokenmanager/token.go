package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
)

const (
	defaultSigningMethod      = "HS256"
	defaultAccessTokenTTL     = time.Hour
	defaultRefreshTokenTTL    = 24 * time.Hour
	defaultRefreshMaxLifetime = 7 * 24 * time.Hour
)

// Claims of both access and refresh tokens
// RefreshExp set for refresh tokens only
type Claims struct {
	jwt.RegisteredClaims
	Type       string           `json:"type"`
	RefreshExp *jwt.NumericDate `json:"refresh_exp,omitempty"`
}

func (c Claims) AccountID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, apperrors.ErrTokenInvalid
	}
	return id, nil
}

// Whether rolling exp not passed yet
// Refresh verification does not check it, callers that need it do it themselves
func (c Claims) Fresh(now time.Time) bool {
	return c.ExpiresAt != nil && now.Before(c.ExpiresAt.Time)
}

// Revoked refresh token ids
type RevocationSet interface {
	// Must report true only if jti was not present
	Add(jti string, until time.Time) bool
	Contains(jti string) bool
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetimes
	// If not set than default is used
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RefreshMaxLifetime time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	key []byte
	alg jwt.SigningMethod

	accessTTL          time.Duration
	refreshTTL         time.Duration
	refreshMaxLifetime time.Duration

	now     func() time.Time
	revoked RevocationSet
}

func New(cfg Config, revoked RevocationSet) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if revoked == nil {
		return nil, errors.New("revocation set required")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC allowed", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.RefreshMaxLifetime, defaultRefreshMaxLifetime)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		key:                []byte(cfg.SecretKey),
		alg:                alg,
		accessTTL:          cfg.AccessTTL,
		refreshTTL:         cfg.RefreshTTL,
		refreshMaxLifetime: cfg.RefreshMaxLifetime,
		now:                cfg.Now,
		revoked:            revoked,
	}, nil
}

func (m *TokenManager) IssueAccess(subject uuid.UUID) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	return m.sign(subject, models.TokenTypeAccess, now, now.Add(m.accessTTL), nil)
}

// Issue refresh token starting a new lineage: max lifetime counted from now
func (m *TokenManager) IssueRefresh(subject uuid.UUID) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	return m.issueRefresh(subject, now, now.Add(m.refreshMaxLifetime))
}

func (m *TokenManager) IssuePair(subject uuid.UUID) (models.TokenPair, error) {
	now := m.now().Truncate(time.Second)
	return m.issuePair(subject, now, now.Add(m.refreshMaxLifetime))
}

// Verify access token: signature, algorithm, type and expiration
func (m *TokenManager) VerifyAccess(token string) (Claims, error) {
	claims, err := m.parse(token,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, apperrors.ErrAccessTokenExpired
	case err != nil:
		return claims, fmt.Errorf("%w. Err: %s", apperrors.ErrTokenInvalid, err)
	case claims.Type != models.TokenTypeAccess:
		return claims, apperrors.ErrTokenType
	}

	if _, err := claims.AccountID(); err != nil {
		return claims, err
	}

	return claims, nil
}

// Verify refresh token: signature, type, revocation and absolute max lifetime
// Rolling exp is not checked, see Claims.Fresh
func (m *TokenManager) VerifyRefresh(token string) (Claims, error) {
	claims, err := m.parseRefresh(token)
	if err != nil {
		return claims, err
	}

	if !m.now().Before(claims.RefreshExp.Time) {
		return claims, apperrors.ErrRefreshTokenExpired
	}

	if m.revoked.Contains(claims.ID) {
		return claims, apperrors.ErrRefreshTokenRevoked
	}

	return claims, nil
}

// Exchange refresh token for the new pair, old one is revoked
// Only one of concurrent rotations of the same token succeeds
func (m *TokenManager) RotateRefresh(old string) (models.TokenPair, Claims, error) {
	var pair models.TokenPair

	claims, err := m.VerifyRefresh(old)
	if err != nil {
		return pair, claims, err
	}

	subject, err := claims.AccountID()
	if err != nil {
		return pair, claims, err
	}

	if !m.revoked.Add(claims.ID, claims.RefreshExp.Time) {
		return pair, claims, apperrors.ErrRefreshTokenRevoked
	}

	pair, err = m.issuePair(subject, m.now().Truncate(time.Second), claims.RefreshExp.Time)
	return pair, claims, err
}

// Revoke token id, revoking it twice is ok
func (m *TokenManager) Revoke(jti string) {
	m.revoked.Add(jti, m.now().Add(m.refreshMaxLifetime))
}

// Revoke refresh token if it was issued by us
// Expired or already revoked tokens are accepted so logout is idempotent
func (m *TokenManager) RevokeRefresh(token string) (Claims, error) {
	claims, err := m.parseRefresh(token)
	if err != nil {
		return claims, err
	}

	m.revoked.Add(claims.ID, claims.RefreshExp.Time)
	return claims, nil
}

func (m *TokenManager) issuePair(subject uuid.UUID, now time.Time, refreshExp time.Time) (models.TokenPair, error) {
	access, err := m.sign(subject, models.TokenTypeAccess, now, now.Add(m.accessTTL), nil)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.issueRefresh(subject, now, refreshExp)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Rolling exp never outlives the lineage
func (m *TokenManager) issueRefresh(subject uuid.UUID, now time.Time, refreshExp time.Time) (models.IssuedToken, error) {
	exp := now.Add(m.refreshTTL)
	if exp.After(refreshExp) {
		exp = refreshExp
	}
	return m.sign(subject, models.TokenTypeRefresh, now, exp, jwt.NewNumericDate(refreshExp))
}

func (m *TokenManager) sign(subject uuid.UUID, typ string, now, exp time.Time, refreshExp *jwt.NumericDate) (models.IssuedToken, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type:       typ,
		RefreshExp: refreshExp,
	}

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", typ, err)
	}

	return models.IssuedToken{Value: value, ID: claims.ID, ExpiresAt: exp}, nil
}

func (m *TokenManager) parse(token string, opts ...jwt.ParserOption) (Claims, error) {
	var claims Claims

	opts = append(opts, jwt.WithValidMethods([]string{m.alg.Alg()}))
	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		opts...,
	)

	return claims, err
}

// Parse refresh token checking signature, type and required claims
// Time based claims are left to the caller
func (m *TokenManager) parseRefresh(token string) (Claims, error) {
	claims, err := m.parse(token, jwt.WithoutClaimsValidation())

	switch {
	case err != nil:
		return claims, fmt.Errorf("%w. Err: %s", apperrors.ErrTokenInvalid, err)
	case claims.Type != models.TokenTypeRefresh:
		return claims, apperrors.ErrTokenType
	case claims.ID == "" || claims.RefreshExp == nil:
		return claims, apperrors.ErrTokenInvalid
	}

	if _, err := claims.AccountID(); err != nil {
		return claims, err
	}

	return claims, nil
}
