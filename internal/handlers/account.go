package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/handlers/render"
	"github.com/nkiryanov/identity/internal/handlers/userctx"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/account"
)

// Public account view, no password hash or one-time tokens
type accountResponse struct {
	ID              uuid.UUID      `json:"id"`
	Email           string         `json:"email"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	Role            string         `json:"role"`
	IsActive        bool           `json:"is_active"`
	IsVerified      bool           `json:"is_verified"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
	AuthenticatedAt *time.Time     `json:"authenticated_at,omitempty"`
	MetaData        map[string]any `json:"meta_data"`
}

func newAccountResponse(a models.Account) accountResponse {
	return accountResponse{
		ID:              a.ID,
		Email:           a.Email,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Role:            a.Role,
		IsActive:        a.IsActive,
		IsVerified:      a.IsVerified,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		AuthenticatedAt: a.AuthenticatedAt,
		MetaData:        a.MetaData,
	}
}

func handleCreateAccount(accountService accountService, logger logger.Logger) http.Handler {
	type request struct {
		Email     string `json:"email" validate:"required,email"`
		Password  string `json:"password" validate:"required,min=8"`
		FirstName string `json:"first_name" validate:"max=100"`
		LastName  string `json:"last_name" validate:"max=100"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		created, err := accountService.Create(r.Context(), account.CreateParams{
			Email:     data.Email,
			Password:  data.Password,
			FirstName: data.FirstName,
			LastName:  data.LastName,
		})
		if err != nil {
			if !errors.Is(err, apperrors.ErrConflict) {
				logger.Error("can't create account", "error", err)
			}
			render.ServiceError(w, err)
			return
		}

		render.JSONWithStatus(w, render.Response{Data: newAccountResponse(created)}, http.StatusCreated)
	})
}

func handleManage(accountService accountService, logger logger.Logger) http.Handler {
	type request struct {
		Email       string `json:"email" validate:"required,email"`
		Token       string `json:"token"`
		NewEmail    string `json:"new_email" validate:"omitempty,email"`
		Password    string `json:"password"`
		NewPassword string `json:"new_password" validate:"omitempty,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, apperrors.ErrTokenMissing)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		action := account.Action(r.PathValue("action"))
		result, err := accountService.Manage(r.Context(), action, account.ManagePayload{
			Email:       data.Email,
			Token:       data.Token,
			NewEmail:    data.NewEmail,
			Password:    data.Password,
			NewPassword: data.NewPassword,
			Caller:      principal.AccountID,
		})
		if err != nil {
			logger.Info("manage failed", "action", action, "error", err)
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Message: result.Message})
	})
}

func handleAccountMe(accountService accountService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, apperrors.ErrTokenMissing)
			return
		}

		a, err := accountService.Get(r.Context(), principal.AccountID)
		if err != nil {
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Data: newAccountResponse(a)})
	})
}

// Caller's account if it has admin role, otherwise renders error
func requireAdmin(w http.ResponseWriter, r *http.Request, accountService accountService) (models.Account, bool) {
	principal, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, apperrors.ErrTokenMissing)
		return models.Account{}, false
	}

	caller, err := accountService.Get(r.Context(), principal.AccountID)
	if err != nil {
		render.ServiceError(w, err)
		return caller, false
	}
	if !caller.IsAdmin() {
		render.ServiceError(w, apperrors.ErrAdminRequired)
		return caller, false
	}
	return caller, true
}

// Admin only
func handleDeleteAccount(accountService accountService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r, accountService); !ok {
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.Error(w, "Invalid account id", http.StatusBadRequest)
			return
		}

		if _, err := accountService.SoftDelete(r.Context(), id); err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				logger.Error("can't delete account", "account_id", id, "error", err)
			}
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Message: "User soft-deleted"})
	})
}

type pageMeta struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
	Count int `json:"count"`
}

// Admin only. Query: email, first_name, last_name, skip, limit
func handleListAccounts(accountService accountService, logger logger.Logger) http.Handler {
	queryInt := func(q url.Values, key string, def int) (int, error) {
		v := q.Get(key)
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid %s", key)
		}
		return n, nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r, accountService); !ok {
			return
		}

		q := r.URL.Query()
		skip, err := queryInt(q, "skip", 0)
		if err != nil {
			render.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := queryInt(q, "limit", account.DefaultFindLimit)
		if err != nil {
			render.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = min(limit, account.MaxFindLimit)

		found, err := accountService.Find(r.Context(), repository.FindParams{
			Email:     q.Get("email"),
			FirstName: q.Get("first_name"),
			LastName:  q.Get("last_name"),
			Offset:    skip,
			Limit:     limit,
		})
		if err != nil {
			logger.Error("can't list accounts", "error", err)
			render.ServiceError(w, err)
			return
		}

		data := make([]accountResponse, 0, len(found))
		for _, a := range found {
			data = append(data, newAccountResponse(a))
		}
		render.JSON(w, render.Response{
			Data: data,
			Meta: pageMeta{Skip: skip, Limit: limit, Count: len(data)},
		})
	})
}

// Owner changes own name and meta data
func handleUpdateProfile(accountService accountService, logger logger.Logger) http.Handler {
	type request struct {
		FirstName *string        `json:"first_name" validate:"omitempty,max=100"`
		LastName  *string        `json:"last_name" validate:"omitempty,max=100"`
		MetaData  map[string]any `json:"meta_data"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, apperrors.ErrTokenMissing)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		updated, err := accountService.UpdateProfile(r.Context(), principal.AccountID, account.ProfileUpdate{
			FirstName: data.FirstName,
			LastName:  data.LastName,
			MetaData:  data.MetaData,
		})
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				logger.Error("can't update profile", "account_id", principal.AccountID, "error", err)
			}
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Data: newAccountResponse(updated)})
	})
}
