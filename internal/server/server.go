// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires configuration, stores and services into an echo
// server.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/database"
	"github.com/taskdeck/taskdeck/internal/handlers"
	"github.com/taskdeck/taskdeck/internal/i18n"
	"github.com/taskdeck/taskdeck/internal/repository"
	authsvc "github.com/taskdeck/taskdeck/internal/services/auth"
	"github.com/taskdeck/taskdeck/internal/services/email"
	"github.com/taskdeck/taskdeck/internal/services/epoch"
	"github.com/taskdeck/taskdeck/internal/services/otp"
	"github.com/taskdeck/taskdeck/internal/services/ratelimit"
	"github.com/taskdeck/taskdeck/internal/services/sso"
	"github.com/taskdeck/taskdeck/internal/services/token"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// Options replaces collaborators that New would otherwise build from the
// configuration.
type Options struct {
	Sender    email.Sender   // replaces the SMTP or log sender
	Providers []sso.Provider // replaces the providers configured in cfg.SSO
	Now       func() time.Time
	Logger    *slog.Logger
}

// App is a fully wired server.
type App struct {
	Echo      *echo.Echo
	DB        *sqlx.DB
	Auth      *authsvc.Service
	Validator *token.Validator

	closers []func() error
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	logger := newLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.Auth.JWTSecret = secret
		logger.Warn("jwt_secret_generated",
			"detail", "tokens will not survive a restart; set --jwt-secret outside development")
	}

	logger.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"epoch_backend", cfg.Store.EpochBackend,
		"ratelimit_backend", cfg.Store.RateLimitBackend,
	)

	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	app, err := New(ctx, cfg, Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("failed to close resources", "error", closeErr)
		}
	}()

	return startWithGracefulShutdown(ctx, app.Echo, cfg, logger)
}

// New opens the database, selects the configured stores, builds the
// services and registers routes. Call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	app := &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// Database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.DB = db
	app.closers = append(app.closers, db.Close)
	repo := repository.New(db)

	// Redis
	var rdb redis.UniversalClient
	if cfg.Store.EpochBackend == config.BackendRedis || cfg.Store.RateLimitBackend == config.BackendRedis {
		rdb, err = openRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rdb.Close)
	}

	epochs, err := newEpochStore(cfg.Store.EpochBackend, repo, rdb)
	if err != nil {
		return nil, err
	}

	rule := ratelimit.Rule{Limit: cfg.OTP.ResendLimit, Window: cfg.OTP.ResendWindow}
	limiter, err := newLimiter(cfg.Store.RateLimitBackend, rule, rdb, now)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, limiter.Close)

	// Mail
	sender := opts.Sender
	if sender == nil {
		sender, err = email.NewSender(&cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mail sender: %w", err)
		}
	}

	// SSO
	providers := opts.Providers
	if providers == nil {
		providers, err = configuredProviders(&cfg.SSO)
		if err != nil {
			return nil, err
		}
	}
	registry := sso.NewRegistry(logger, providers...)

	// Tokens
	tokenCfg := token.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL: map[token.Kind]time.Duration{
			token.KindOTP:   cfg.Auth.OTPTTL,
			token.KindLogin: cfg.Auth.LoginTTL,
		},
		Now: now,
	}
	issuer, err := token.NewIssuer(epochs, tokenCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	app.Validator, err = token.NewValidator(epochs, repo, tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	// Services
	engine := otp.New(repo, sender, limiter, otp.Config{
		Expiry:      cfg.OTP.Expiry,
		HashCost:    cfg.OTP.HashCost,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Now:         now,
	}, logger)

	app.Auth, err = authsvc.NewService(repo, engine, registry, issuer,
		authsvc.Config{BcryptCost: cfg.Auth.BcryptCost}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler

	setupMiddleware(e, cfg, logger)
	setupRoutes(e, repo, app.Auth, app.Validator)
	app.Echo = e

	return app, nil
}

// Close releases the database, Redis client and limiter.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func newEpochStore(backend string, repo *repository.Repository, rdb redis.UniversalClient) (epoch.Store, error) {
	switch backend {
	case config.BackendMemory, "":
		return epoch.NewMemoryStore(), nil
	case config.BackendDatabase:
		return epoch.NewSQLStore(repo), nil
	case config.BackendRedis:
		return epoch.NewRedisStore(rdb), nil
	default:
		return nil, fmt.Errorf("unknown epoch backend %q", backend)
	}
}

type closingLimiter interface {
	ratelimit.Limiter
	Close() error
}

func newLimiter(backend string, rule ratelimit.Rule, rdb redis.UniversalClient, now func() time.Time) (closingLimiter, error) {
	switch backend {
	case config.BackendMemory, "":
		l, err := ratelimit.NewMemoryLimiter(rule, now)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.BackendRedis:
		l, err := ratelimit.NewRedisLimiter(rdb, rule, now)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

func configuredProviders(cfg *config.SSOConfig) ([]sso.Provider, error) {
	var providers []sso.Provider
	if cfg.GoogleClientID != "" {
		p, err := sso.Google(cfg.GoogleClientID, cfg.KeyRefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to configure google sso: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.FacebookAppID != "" {
		p, err := sso.Facebook(cfg.FacebookAppID, cfg.KeyRefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to configure facebook sso: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config, logger *slog.Logger) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errChan:
		logger.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
