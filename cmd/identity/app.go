package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/identity/internal/db"
	"github.com/nkiryanov/identity/internal/events"
	"github.com/nkiryanov/identity/internal/handlers"
	"github.com/nkiryanov/identity/internal/handlers/middleware"
	"github.com/nkiryanov/identity/internal/logger"
	"github.com/nkiryanov/identity/internal/metrics"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/repository/memory"
	"github.com/nkiryanov/identity/internal/repository/postgres"
	"github.com/nkiryanov/identity/internal/service/account"
	"github.com/nkiryanov/identity/internal/service/auth"
	"github.com/nkiryanov/identity/internal/service/auth/revocation"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
)

const (
	revocationPruneInterval = time.Minute
	shutdownTimeout         = 5 * time.Second
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	pool       *pgxpool.Pool // nil for in-memory storage
	revoked    *revocation.Set
	dispatcher *events.Dispatcher
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	if c.SecretKey == "" {
		return nil, errors.New("secret key must be set")
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}

	// Connect to the database and run migrations, or keep everything in memory
	var storage repository.Storage
	if c.DatabaseDSN == "" {
		logger.Warn("DATABASE_URI is empty, accounts are stored in memory")
		storage = memory.NewStorage()
	} else {
		app.pool, err = db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		storage = postgres.NewStorage(app.pool)
	}

	m := metrics.New()

	app.revoked = revocation.New()
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:          c.SecretKey,
		AccessTTL:          c.AccessTokenTTL,
		RefreshTTL:         c.RefreshTokenTTL,
		RefreshMaxLifetime: c.RefreshTokenMaxLifetime,
	}, app.revoked)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	app.dispatcher = events.NewDispatcher(events.Config{
		RetryAttempts: c.EventRetryAttempts,
		RetryDelay:    c.EventRetryDelay,
		Observer:      m,
	}, logger)

	m.Gauge("revoked_tokens", "Refresh token ids in the revocation set", func() float64 {
		return float64(app.revoked.Len())
	})
	m.Gauge("events_pending", "Events waiting for the dispatcher", func() float64 {
		return float64(app.dispatcher.Len())
	})

	// Initialize services
	accountService, err := account.NewService(account.Config{}, storage, app.dispatcher, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating account service. Err: %w", err)
	}
	app.dispatcher.On(account.EventAccountCreated, accountService.OnAccountCreated)

	authService, err := auth.NewAuthService(auth.AuthServiceConfig{}, storage, tokenManager, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	deps := handlers.Deps{
		Auth:         authService,
		Accounts:     accountService,
		Metrics:      m,
		LoginLimiter: middleware.NewRateLimiter(c.LoginRateLimit, c.LoginRateBurst),
	}
	if app.pool != nil {
		deps.Pinger = app.pool
	}
	app.Handler = handlers.NewRouter(deps, logger)

	return app, nil
}

// Run starts background workers and http server, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	s.dispatcher.Start(ctx)
	defer s.dispatcher.Stop()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	pruned := s.revoked.Run(srvCtx, revocationPruneInterval)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-pruned

	return err
}

func (s *ServerApp) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
