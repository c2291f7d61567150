// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token issues and validates signed session tokens. Tokens are not
// stored: each carries the user's epoch at issuance and stops validating as
// soon as the epoch moves on.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/taskdeck/taskdeck/internal/apperr"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/repository"
	"github.com/taskdeck/taskdeck/internal/services/epoch"
)

// Kind scopes what a token may be used for.
type Kind string

const (
	KindOTP   Kind = "otp"
	KindLogin Kind = "login"
)

// Validation failures, in the order they are checked.
var (
	ErrMalformed        = apperr.New(apperr.Authentication, "Invalid or malformed token")
	ErrInvalidSignature = apperr.New(apperr.Authentication, "Invalid token signature")
	ErrExpired          = apperr.New(apperr.Authentication, "Token expired")
	ErrPayloadInvalid   = apperr.New(apperr.Authentication, "Invalid token payload")
	ErrRevoked          = apperr.New(apperr.Authentication, "Token has been revoked")
	ErrUserNotFound     = apperr.New(apperr.Authentication, "User not found")
	ErrNotVerified      = apperr.New(apperr.Authorization, "User not verified")
)

// Claims is the signed payload.
type Claims struct {
	Epoch *int64 `json:"epoch,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not a user id", c.Subject)
	}
	return id, nil
}

// Config is shared by Issuer and Validator.
type Config struct {
	Secret []byte
	Issuer string
	TTL    map[Kind]time.Duration
	// Now is the clock for iat/exp. Defaults to time.Now.
	Now func() time.Time
}

// DefaultTTL returns the default lifetimes per kind.
func DefaultTTL() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindOTP:   10 * time.Minute,
		KindLogin: 7 * 24 * time.Hour,
	}
}

func (c *Config) normalize() error {
	if len(c.Secret) == 0 {
		return errors.New("token secret is required")
	}
	if c.TTL == nil {
		c.TTL = DefaultTTL()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string    `json:"accessToken"`
	Epoch     int64     `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer signs tokens. Every issuance advances the user's epoch, which
// revokes all tokens issued to that user before.
type Issuer struct {
	epochs epoch.Store
	cfg    Config
	logger *slog.Logger
}

// NewIssuer creates an issuer.
func NewIssuer(epochs epoch.Store, cfg Config, logger *slog.Logger) (*Issuer, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{epochs: epochs, cfg: cfg, logger: logger}, nil
}

// Issue advances the epoch of userID and signs a token of kind carrying it.
func (i *Issuer) Issue(ctx context.Context, userID int64, kind Kind) (*Issued, error) {
	ttl, ok := i.cfg.TTL[kind]
	if !ok {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	current, err := i.epochs.Advance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("advance epoch: %w", err)
	}

	now := i.cfg.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		Epoch: &current,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	i.logger.InfoContext(ctx, "token_issued", "user_id", userID, "kind", kind, "epoch", current)
	return &Issued{Token: signed, Epoch: current, ExpiresAt: expiresAt}, nil
}

// Revoke advances the epoch of userID without issuing a token.
func (i *Issuer) Revoke(ctx context.Context, userID int64) error {
	current, err := i.epochs.Advance(ctx, userID)
	if err != nil {
		return fmt.Errorf("advance epoch: %w", err)
	}
	i.logger.InfoContext(ctx, "tokens_revoked", "user_id", userID, "epoch", current)
	return nil
}

// UserFinder loads users for validation.
type UserFinder interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Validator checks presented tokens.
type Validator struct {
	epochs epoch.Store
	users  UserFinder
	cfg    Config
	parser *jwt.Parser
}

// NewValidator creates a validator.
func NewValidator(epochs epoch.Store, users UserFinder, cfg Config) (*Validator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Validator{epochs: epochs, users: users, cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Validate returns the user a token was issued to. accept lists the kinds
// the caller allows and defaults to KindLogin. Failures are reported as the
// first matching error of ErrMalformed, ErrInvalidSignature, ErrExpired,
// ErrPayloadInvalid, ErrRevoked, ErrUserNotFound and ErrNotVerified; store
// failures are returned as is.
func (v *Validator) Validate(ctx context.Context, raw string, accept ...Kind) (*models.User, *Claims, error) {
	if len(accept) == 0 {
		accept = []Kind{KindLogin}
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.key); err != nil {
		return nil, nil, classify(err)
	}

	userID, err := claims.UserID()
	if err != nil || claims.Epoch == nil || *claims.Epoch < 0 || !slices.Contains(accept, claims.Kind) {
		return nil, nil, ErrPayloadInvalid
	}

	current, err := v.epochs.Current(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("read epoch: %w", err)
	}
	if current != *claims.Epoch {
		return nil, nil, ErrRevoked
	}

	user, err := v.users.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Verified {
		return nil, nil, ErrNotVerified
	}

	return user, claims, nil
}

func (v *Validator) key(_ *jwt.Token) (any, error) {
	return v.cfg.Secret, nil
}

// classify maps parser errors onto the validation order. Signature problems
// are reported before claim problems, and expiry before other claim errors.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrPayloadInvalid
	}
}
