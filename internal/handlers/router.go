package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/identity/internal/handlers/middleware"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/account"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Deps struct {
	Auth     authService
	Accounts accountService
	Metrics  instrumenter

	// Database ping for health check, optional
	Pinger pinger

	// Requests passed without bearer token; middleware.DefaultPublicPaths if nil
	PublicPaths []string

	// Limiter for POST /account/validate, optional
	LoginLimiter *middleware.RateLimiter
}

func NewRouter(deps Deps, logger logger.Logger) http.Handler {
	public := deps.PublicPaths
	if public == nil {
		public = middleware.DefaultPublicPaths
	}

	// Auth runs inside instrumentation so rejected requests are counted per route
	withAuth := middleware.AuthMiddleware(deps.Auth, public)

	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		h = withAuth(h)
		if deps.Metrics != nil {
			h = deps.Metrics.Instrument(pattern, h)
		}
		mux.Handle(pattern, h)
	}

	validate := handleValidate(deps.Auth, logger)
	if deps.LoginLimiter != nil {
		validate = deps.LoginLimiter.Middleware(validate)
	}

	handle("POST /account", handleCreateAccount(deps.Accounts, logger))
	handle("POST /account/validate", validate)
	handle("POST /account/revalidate", handleRevalidate(deps.Auth, logger))
	handle("POST /account/invalidate", handleInvalidate(deps.Auth, logger))
	handle("POST /account/manage/{action}", handleManage(deps.Accounts, logger))
	handle("GET /account", handleListAccounts(deps.Accounts, logger))
	handle("GET /account/me", handleAccountMe(deps.Accounts))
	handle("PATCH /account/me", handleUpdateProfile(deps.Accounts, logger))
	handle("DELETE /account/{id}", handleDeleteAccount(deps.Accounts, logger))
	handle("GET /health", handleHealth(deps.Pinger, logger))
	handle("GET /docs", handleDocs())
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", withAuth(deps.Metrics.Handler()))
	}

	return chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggerMiddleware(logger),
	)
}

type authService interface {
	// Check credentials and issue token pair
	// Unknown email, wrong password or inactive account give apperrors.ErrInvalidCredentials
	Validate(ctx context.Context, email string, password string) (models.Session, error)

	// Rotate refresh token, the presented one can't be used again
	Revalidate(ctx context.Context, refresh string) (models.Session, error)

	// Revoke refresh token
	Invalidate(ctx context.Context, refresh string) error

	// Get request and return caller if it authenticated or error
	Authenticate(ctx context.Context, r *http.Request) (models.Principal, error)
}

type accountService interface {
	// Has to return apperrors.ErrAccountExists if live account with the email exists
	Create(ctx context.Context, params account.CreateParams) (models.Account, error)
	Get(ctx context.Context, id uuid.UUID) (models.Account, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (models.Account, error)
	Find(ctx context.Context, params repository.FindParams) ([]models.Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd account.ProfileUpdate) (models.Account, error)
	Manage(ctx context.Context, action account.Action, p account.ManagePayload) (account.Result, error)
}

type instrumenter interface {
	Instrument(route string, next http.Handler) http.Handler
	Handler() http.Handler
}

type pinger interface {
	Ping(ctx context.Context) error
}
