package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askibill/askibill/internal/db"
	"github.com/askibill/askibill/internal/handlers"
	"github.com/askibill/askibill/internal/handlers/middleware"
	"github.com/askibill/askibill/internal/logger"
	"github.com/askibill/askibill/internal/mailer"
	"github.com/askibill/askibill/internal/repository/postgres"
	"github.com/askibill/askibill/internal/service/auth"
	"github.com/askibill/askibill/internal/service/auth/tokencodec"
	"github.com/askibill/askibill/internal/service/session"
	"github.com/askibill/askibill/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
	pool   *pgxpool.Pool
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Build everything not touching the database first, so bad config fails fast
	tokens, err := tokencodec.New(tokencodec.Config{
		SecretKey:  c.SecretKey,
		Alg:        c.Algorithm,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		ResetTTL:   c.ResetTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	trustedProxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, err
	}

	sender, err := mailer.New(c.Mail, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating mailer. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	sessions, err := session.NewRegistry(session.Config{TTL: c.RefreshTTL}, storage.Session())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating session registry. Err: %w", err)
	}
	users := user.NewService(user.BcryptHasher{}, storage.User())

	authService, err := auth.NewService(auth.Config{ResetURL: c.ResetURL, MailTimeout: c.MailTimeout}, users, sessions, tokens, sender, l)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(
		handlers.RouterConfig{
			CORSOrigins:      c.CORSOrigins,
			AuthRateLimitRPM: c.AuthRateLimitRPM,
			TrustedProxies:   trustedProxies,
		},
		authService,
		l,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     l,
		pool:       pool,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

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

	return err
}
