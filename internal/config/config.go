// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package config collects runtime settings from flags, environment and TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// Store backends.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Auth     AuthConfig
	OTP      OTPConfig
	SMTP     SMTPConfig
	SSO      SSOConfig
	Store    StoreConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int      // in MB
	CORSOrigins []string // allowed origins, "*" for any
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type AuthConfig struct { //nolint:govet // fieldalignment not critical for config structs
	JWTSecret  string // HMAC key for session tokens, random per process if empty on localhost
	Issuer     string
	LoginTTL   time.Duration
	OTPTTL     time.Duration // lifetime of "otp" kind tokens
	BcryptCost int
}

type OTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Expiry       time.Duration
	HashCost     int
	MaxAttempts  int           // wrong guesses before a code is invalidated
	ResendLimit  int           // requests allowed per window and email
	ResendWindow time.Duration // sliding window length
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string // empty logs messages instead of sending them
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

type SSOConfig struct { //nolint:govet // fieldalignment not critical for config structs
	GoogleClientID     string
	FacebookAppID      string
	KeyRefreshInterval time.Duration
}

type StoreConfig struct {
	EpochBackend     string // memory, database, redis
	RateLimitBackend string // memory, redis
	RedisURL         string
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
			CORSOrigins: splitList(cmd.String("cors-origins")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Auth: AuthConfig{
			JWTSecret:  cmd.String("jwt-secret"),
			Issuer:     cmd.String("jwt-issuer"),
			LoginTTL:   cmd.Duration("login-token-ttl"),
			OTPTTL:     cmd.Duration("otp-token-ttl"),
			BcryptCost: int(cmd.Int("bcrypt-cost")),
		},
		OTP: OTPConfig{
			Expiry:       cmd.Duration("otp-expiry"),
			HashCost:     int(cmd.Int("otp-hash-cost")),
			MaxAttempts:  int(cmd.Int("otp-max-attempts")),
			ResendLimit:  int(cmd.Int("otp-resend-limit")),
			ResendWindow: cmd.Duration("otp-resend-window"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		SSO: SSOConfig{
			GoogleClientID:     cmd.String("sso-google-client-id"),
			FacebookAppID:      cmd.String("sso-facebook-app-id"),
			KeyRefreshInterval: cmd.Duration("sso-key-refresh"),
		},
		Store: StoreConfig{
			EpochBackend:     strings.ToLower(cmd.String("epoch-backend")),
			RateLimitBackend: strings.ToLower(cmd.String("ratelimit-backend")),
			RedisURL:         cmd.String("redis-url"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = cfg.Server.BaseURL
	}

	return cfg
}

// Validate reports settings that would leave the server insecure or unable
// to start.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" && !IsLocalhost(c.Server.Host) {
		errs = append(errs, errors.New("jwt secret is required when not bound to localhost"))
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("jwt secret must be at least 32 bytes"))
	}
	if c.Auth.LoginTTL <= 0 || c.Auth.OTPTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.OTP.Expiry <= 0 {
		errs = append(errs, errors.New("otp expiry must be positive"))
	}
	if c.OTP.ResendLimit < 1 || c.OTP.ResendWindow <= 0 {
		errs = append(errs, errors.New("otp resend limit and window must be positive"))
	}

	switch c.Store.EpochBackend {
	case BackendMemory, BackendDatabase, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown epoch backend %q", c.Store.EpochBackend))
	}
	switch c.Store.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit backend %q", c.Store.RateLimitBackend))
	}
	if (c.Store.EpochBackend == BackendRedis || c.Store.RateLimitBackend == BackendRedis) && c.Store.RedisURL == "" {
		errs = append(errs, errors.New("redis url is required for the redis backend"))
	}

	return errors.Join(errs...)
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	if host == "" {
		host = "localhost"
	}
	if cfg.Server.Port == 80 {
		return fmt.Sprintf("http://%s", host)
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Public base URL of the API",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.StringFlag{
			Name:    "cors-origins",
			Value:   "*",
			Usage:   "Comma-separated list of allowed CORS origins",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CORS_ORIGINS"), toml.TOML("server.cors_origins", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/taskdeck.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		// Auth flags
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HMAC secret for session tokens (at least 32 bytes, random per process if empty in dev)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_SECRET"), toml.TOML("auth.jwt_secret", configFile)),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "Issuer claim of session tokens (defaults to base_url)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("JWT_ISSUER"), toml.TOML("auth.issuer", configFile)),
		},
		&cli.DurationFlag{
			Name:    "login-token-ttl",
			Value:   7 * 24 * time.Hour,
			Usage:   "Lifetime of login tokens",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOGIN_TOKEN_TTL"), toml.TOML("auth.login_ttl", configFile)),
		},
		&cli.DurationFlag{
			Name:    "otp-token-ttl",
			Value:   10 * time.Minute,
			Usage:   "Lifetime of tokens issued after signup",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_TOKEN_TTL"), toml.TOML("auth.otp_ttl", configFile)),
		},
		&cli.IntFlag{
			Name:    "bcrypt-cost",
			Value:   10,
			Usage:   "bcrypt cost for password hashes",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BCRYPT_COST"), toml.TOML("auth.bcrypt_cost", configFile)),
		},
		// OTP flags
		&cli.DurationFlag{
			Name:    "otp-expiry",
			Value:   10 * time.Minute,
			Usage:   "How long a one-time passcode stays valid",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_EXPIRY"), toml.TOML("otp.expiry", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-hash-cost",
			Value:   8,
			Usage:   "bcrypt cost for passcode hashes",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_HASH_COST"), toml.TOML("otp.hash_cost", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   5,
			Usage:   "Wrong guesses after which a passcode is invalidated",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_MAX_ATTEMPTS"), toml.TOML("otp.max_attempts", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-resend-limit",
			Value:   5,
			Usage:   "Passcode requests allowed per email within the window",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_RESEND_LIMIT"), toml.TOML("otp.resend_limit", configFile)),
		},
		&cli.DurationFlag{
			Name:    "otp-resend-window",
			Value:   time.Minute,
			Usage:   "Sliding window for the passcode request limit",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_RESEND_WINDOW"), toml.TOML("otp.resend_window", configFile)),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host (messages are logged when empty)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "noreply@taskdeck.local",
			Usage:   "Sender address",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Taskdeck",
			Usage:   "Sender display name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		// SSO flags
		&cli.StringFlag{
			Name:    "sso-google-client-id",
			Usage:   "Google OAuth client ID (audience of Google ID tokens)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SSO_GOOGLE_CLIENT_ID"), toml.TOML("sso.google_client_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "sso-facebook-app-id",
			Usage:   "Facebook app ID (audience of Limited Login tokens)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SSO_FACEBOOK_APP_ID"), toml.TOML("sso.facebook_app_id", configFile)),
		},
		&cli.DurationFlag{
			Name:    "sso-key-refresh",
			Value:   time.Hour,
			Usage:   "Maximum age of cached provider signing keys",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SSO_KEY_REFRESH"), toml.TOML("sso.key_refresh", configFile)),
		},
		// Store flags
		&cli.StringFlag{
			Name:    "epoch-backend",
			Value:   BackendMemory,
			Usage:   "Token epoch store (memory, database, redis)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EPOCH_BACKEND"), toml.TOML("store.epoch_backend", configFile)),
		},
		&cli.StringFlag{
			Name:    "ratelimit-backend",
			Value:   BackendMemory,
			Usage:   "Rate limiter state (memory, redis)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RATELIMIT_BACKEND"), toml.TOML("store.ratelimit_backend", configFile)),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL, e.g. redis://localhost:6379/0",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REDIS_URL"), toml.TOML("store.redis_url", configFile)),
		},
	}
}
