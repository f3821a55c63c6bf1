package handlers

import (
	"net/http"
	"time"

	"github.com/nkiryanov/identity/internal/handlers/render"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
)

type authTokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionResponse struct {
	Auth authTokens      `json:"auth"`
	User accountResponse `json:"user"`
}

func newSessionResponse(s models.Session) sessionResponse {
	return sessionResponse{
		Auth: authTokens{
			AccessToken:      s.Pair.Access.Value,
			RefreshToken:     s.Pair.Refresh.Value,
			TokenType:        "bearer",
			AccessExpiresAt:  s.Pair.Access.ExpiresAt,
			RefreshExpiresAt: s.Pair.Refresh.ExpiresAt,
		},
		User: newAccountResponse(s.Account),
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func handleValidate(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Validate(r.Context(), data.Email, data.Password)
		if err != nil {
			logger.Info("validate failed", "error", err)
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Data: newSessionResponse(session)})
	})
}

func handleRevalidate(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		session, err := authService.Revalidate(r.Context(), data.RefreshToken)
		if err != nil {
			logger.Info("revalidate failed", "error", err)
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Data: newSessionResponse(session)})
	})
}

func handleInvalidate(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		if err := authService.Invalidate(r.Context(), data.RefreshToken); err != nil {
			logger.Info("invalidate failed", "error", err)
			render.ServiceError(w, err)
			return
		}

		render.JSON(w, render.Response{Message: "Successfully logged out"})
	})
}
