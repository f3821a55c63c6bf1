package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
)

type AccountRepo struct {
	DB DBTX
}

const accountColumns = `id, created_at, updated_at, email, first_name, last_name, password_hash, role,
	is_active, is_verified, is_deleted, deleted_at, authenticated_at,
	verification_token, verification_token_expires_at,
	authentication_token, authentication_token_expires_at,
	reset_token, reset_token_expires_at, meta_data`

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, created_at, email, first_name, last_name, password_hash, role, meta_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + accountColumns

func (r *AccountRepo) Create(ctx context.Context, params repository.CreateAccountParams) (models.Account, error) {
	role := params.Role
	if role == "" {
		role = models.RoleUser
	}

	rows, _ := r.DB.Query(ctx, createAccount,
		uuid.New(), time.Now(), params.Email, params.FirstName, params.LastName, params.PasswordHash, role,
		metaData(params.MetaData),
	)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case isUniqueViolation(err):
		return account, apperrors.ErrAccountExists
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

const getAccountByID = `-- name: GetAccountByID
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1 AND ($2 OR NOT is_deleted)
`

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID, opts ...repository.GetOption) (models.Account, error) {
	o := repository.NewGetOptions(opts...)
	rows, _ := r.DB.Query(ctx, withLock(getAccountByID, o), id, o.IncludeDeleted)
	return collectAccount(rows)
}

const getAccountByEmail = `-- name: GetAccountByEmail
SELECT ` + accountColumns + `
FROM accounts
WHERE email = $1 AND ($2 OR NOT is_deleted)
ORDER BY is_deleted, created_at DESC
LIMIT 1
`

func (r *AccountRepo) GetByEmail(ctx context.Context, email string, opts ...repository.GetOption) (models.Account, error) {
	o := repository.NewGetOptions(opts...)
	rows, _ := r.DB.Query(ctx, withLock(getAccountByEmail, o), email, o.IncludeDeleted)
	return collectAccount(rows)
}

const updateAccount = `-- name: UpdateAccount
UPDATE accounts SET
	updated_at = $2,
	email = $3,
	first_name = $4,
	last_name = $5,
	password_hash = $6,
	role = $7,
	is_active = $8,
	is_verified = $9,
	is_deleted = $10,
	deleted_at = $11,
	authenticated_at = $12,
	verification_token = $13,
	verification_token_expires_at = $14,
	authentication_token = $15,
	authentication_token_expires_at = $16,
	reset_token = $17,
	reset_token_expires_at = $18,
	meta_data = $19
WHERE id = $1
RETURNING ` + accountColumns

func (r *AccountRepo) Update(ctx context.Context, a models.Account) (models.Account, error) {
	verification, verificationExpires := tokenToColumns(a.Verification)
	authentication, authenticationExpires := tokenToColumns(a.Authentication)
	reset, resetExpires := tokenToColumns(a.Reset)

	rows, _ := r.DB.Query(ctx, updateAccount,
		a.ID, time.Now(), a.Email, a.FirstName, a.LastName, a.PasswordHash, a.Role,
		a.IsActive, a.IsVerified, a.IsDeleted, a.DeletedAt, a.AuthenticatedAt,
		verification, verificationExpires,
		authentication, authenticationExpires,
		reset, resetExpires,
		metaData(a.MetaData),
	)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	case isUniqueViolation(err):
		return account, apperrors.ErrEmailTaken
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

const findAccounts = `-- name: FindAccounts
SELECT ` + accountColumns + `
FROM accounts
WHERE NOT is_deleted
	AND ($1 = '' OR email = $1)
	AND ($2 = '' OR first_name = $2)
	AND ($3 = '' OR last_name = $3)
ORDER BY created_at, id
OFFSET $4
LIMIT NULLIF($5, 0)
`

func (r *AccountRepo) Find(ctx context.Context, params repository.FindParams) ([]models.Account, error) {
	rows, _ := r.DB.Query(ctx, findAccounts,
		params.Email, params.FirstName, params.LastName, max(params.Offset, 0), max(params.Limit, 0),
	)
	accounts, err := pgx.CollectRows(rows, rowToAccount)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return accounts, nil
}

const softDeleteAccount = `-- name: SoftDeleteAccount
UPDATE accounts
SET is_deleted = TRUE, deleted_at = $2, updated_at = $2
WHERE id = $1 AND NOT is_deleted
RETURNING ` + accountColumns

func (r *AccountRepo) SoftDelete(ctx context.Context, id uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, softDeleteAccount, id, time.Now())
	return collectAccount(rows)
}

func withLock(query string, o repository.GetOptions) string {
	if o.ForUpdate {
		return query + "FOR UPDATE\n"
	}
	return query
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Empty token slot stored as NULLs
func tokenToColumns(t models.OneTimeToken) (*string, *time.Time) {
	if t.IsZero() {
		return nil, nil
	}
	return &t.Value, &t.ExpiresAt
}

func tokenFromColumns(value *string, expiresAt *time.Time) models.OneTimeToken {
	if value == nil || expiresAt == nil {
		return models.OneTimeToken{}
	}
	return models.OneTimeToken{Value: *value, ExpiresAt: *expiresAt}
}

// jsonb column is NOT NULL
func metaData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var (
		a models.Account

		verification, authentication, reset                      *string
		verificationExpires, authenticationExpires, resetExpires *time.Time
	)

	err := row.Scan(
		&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &a.Role,
		&a.IsActive, &a.IsVerified, &a.IsDeleted, &a.DeletedAt, &a.AuthenticatedAt,
		&verification, &verificationExpires,
		&authentication, &authenticationExpires,
		&reset, &resetExpires, &a.MetaData,
	)

	a.Verification = tokenFromColumns(verification, verificationExpires)
	a.Authentication = tokenFromColumns(authentication, authenticationExpires)
	a.Reset = tokenFromColumns(reset, resetExpires)

	return a, err
}
