// Package memory keeps accounts in process memory
// Used when no database configured and in service tests
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
)

// Transactions are serialized: InTx holds the lock for the whole fn,
// so ForUpdate option is meaningless here and ignored
type Storage struct {
	mu       *sync.Mutex
	accounts map[uuid.UUID]models.Account
	inTx     bool
}

func NewStorage() *Storage {
	return &Storage{
		mu:       &sync.Mutex{},
		accounts: make(map[uuid.UUID]models.Account),
	}
}

func (s *Storage) Account() repository.AccountRepo {
	return &AccountRepo{s: s}
}

// Run fn against a copy of accounts, swap copy in on success
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Storage{mu: s.mu, accounts: maps.Clone(s.accounts), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}

	s.accounts = tx.accounts
	return nil
}

func (s *Storage) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type AccountRepo struct {
	s *Storage
}

func (r *AccountRepo) Create(ctx context.Context, params repository.CreateAccountParams) (models.Account, error) {
	defer r.s.lock()()

	if _, ok := r.findLive(params.Email, uuid.Nil); ok {
		return models.Account{}, apperrors.ErrAccountExists
	}

	role := params.Role
	if role == "" {
		role = models.RoleUser
	}

	account := models.Account{
		ID:           uuid.New(),
		CreatedAt:    time.Now(),
		Email:        params.Email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		IsActive:     true,
		MetaData:     cloneMeta(params.MetaData),
	}
	r.s.accounts[account.ID] = account

	account.MetaData = cloneMeta(account.MetaData)
	return account, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID, opts ...repository.GetOption) (models.Account, error) {
	defer r.s.lock()()

	o := repository.NewGetOptions(opts...)
	account, ok := r.s.accounts[id]
	if !ok || (account.IsDeleted && !o.IncludeDeleted) {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	account.MetaData = cloneMeta(account.MetaData)
	return account, nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string, opts ...repository.GetOption) (models.Account, error) {
	defer r.s.lock()()

	if account, ok := r.findLive(email, uuid.Nil); ok {
		account.MetaData = cloneMeta(account.MetaData)
		return account, nil
	}

	if !repository.NewGetOptions(opts...).IncludeDeleted {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	// Latest deleted one, same order as postgres storage
	var found *models.Account
	for _, a := range r.s.accounts {
		if a.Email == email && (found == nil || a.CreatedAt.After(found.CreatedAt)) {
			found = &a
		}
	}
	if found == nil {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	found.MetaData = cloneMeta(found.MetaData)
	return *found, nil
}

func (r *AccountRepo) Update(ctx context.Context, account models.Account) (models.Account, error) {
	defer r.s.lock()()

	if _, ok := r.s.accounts[account.ID]; !ok {
		return models.Account{}, apperrors.ErrAccountNotFound
	}
	if !account.IsDeleted {
		if _, ok := r.findLive(account.Email, account.ID); ok {
			return models.Account{}, apperrors.ErrEmailTaken
		}
	}

	now := time.Now()
	account.UpdatedAt = &now
	account.MetaData = cloneMeta(account.MetaData)
	r.s.accounts[account.ID] = account

	account.MetaData = cloneMeta(account.MetaData)
	return account, nil
}

func (r *AccountRepo) Find(ctx context.Context, params repository.FindParams) ([]models.Account, error) {
	defer r.s.lock()()

	match := func(filter string, value string) bool {
		return filter == "" || filter == value
	}

	found := make([]models.Account, 0)
	for _, a := range r.s.accounts {
		if a.IsDeleted || !match(params.Email, a.Email) || !match(params.FirstName, a.FirstName) || !match(params.LastName, a.LastName) {
			continue
		}
		a.MetaData = cloneMeta(a.MetaData)
		found = append(found, a)
	}

	slices.SortFunc(found, func(a, b models.Account) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})

	offset := min(max(params.Offset, 0), len(found))
	found = found[offset:]
	if params.Limit > 0 && params.Limit < len(found) {
		found = found[:params.Limit]
	}

	return found, nil
}

func (r *AccountRepo) SoftDelete(ctx context.Context, id uuid.UUID) (models.Account, error) {
	defer r.s.lock()()

	account, ok := r.s.accounts[id]
	if !ok || account.IsDeleted {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	now := time.Now()
	account.IsDeleted = true
	account.DeletedAt = &now
	account.UpdatedAt = &now
	r.s.accounts[id] = account

	return account, nil
}

// Stored accounts don't share meta data with callers
func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

// Non-deleted account with the email other than skip
func (r *AccountRepo) findLive(email string, skip uuid.UUID) (models.Account, bool) {
	for id, a := range r.s.accounts {
		if id != skip && !a.IsDeleted && a.Email == email {
			return a, true
		}
	}
	return models.Account{}, false
}
