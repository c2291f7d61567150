// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues, delivers and verifies six-digit one-time passcodes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/taskdeck/taskdeck/internal/apperr"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/repository"
	"github.com/taskdeck/taskdeck/internal/services/email"
	"github.com/taskdeck/taskdeck/internal/services/ratelimit"
	"golang.org/x/crypto/bcrypt"
)

// CodeLength is the number of digits in a passcode.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

var (
	ErrNotFound      = apperr.New(apperr.NotFound, "No verification code found")
	ErrAlreadyUsed   = apperr.New(apperr.Validation, "Verification code already used")
	ErrExpired       = apperr.New(apperr.Authentication, "Verification code expired")
	ErrMismatch      = apperr.New(apperr.Authentication, "Invalid verification code")
	ErrSuperseded    = apperr.New(apperr.Authentication, "Verification code was replaced by a newer one")
	ErrTooManyTries  = apperr.New(apperr.RateLimited, "Too many failed attempts, request a new code")
	ErrResendTooSoon = apperr.New(apperr.RateLimited, "A valid verification code was already sent")
	ErrRateLimited   = apperr.New(apperr.RateLimited, "Too many requests")
	ErrDelivery      = apperr.New(apperr.Dependency, "Could not deliver verification code")
)

// Store is the slice of the credential store the engine needs.
type Store interface {
	CreateOTP(ctx context.Context, otp *models.OTP) error
	LatestOTP(ctx context.Context, userID int64, purpose models.OTPPurpose) (*models.OTP, error)
	ReplaceOTP(ctx context.Context, id int64, codeHash string, expiresAt time.Time) error
	ExpireOTP(ctx context.Context, id int64, at time.Time) error
	RecordOTPFailure(ctx context.Context, id int64) (int, error)
	ConsumeOTPAndVerifyUser(ctx context.Context, otpID int64, codeHash string, userID int64) error
}

// Config tunes the engine.
type Config struct {
	Expiry   time.Duration
	HashCost int
	// MaxAttempts is the number of wrong guesses after which a code is
	// invalidated. Defaults to 5.
	MaxAttempts int
	// Now is the clock used for every expiry decision. Defaults to time.Now.
	Now func() time.Time
}

// Engine manages passcodes for users.
type Engine struct {
	store   Store
	sender  email.Sender
	limiter ratelimit.Limiter
	cfg     Config
	logger  *slog.Logger
}

// New creates an engine.
func New(store Store, sender email.Sender, limiter ratelimit.Limiter, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 10 * time.Minute
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, sender: sender, limiter: limiter, cfg: cfg, logger: logger}
}

// Issue stores a fresh code for user and delivers it. The plaintext is
// returned for callers that need it in tests; it is never persisted.
func (e *Engine) Issue(ctx context.Context, user *models.User, purpose models.OTPPurpose) (string, error) {
	code, hash, err := e.newCode()
	if err != nil {
		return "", err
	}

	record := &models.OTP{
		UserID:    user.ID,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: e.cfg.Now().Add(e.cfg.Expiry),
	}
	if err := e.store.CreateOTP(ctx, record); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	if err := e.deliver(ctx, user, record.ID, code); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "otp_issued", "user_id", user.ID, "purpose", purpose)
	return code, nil
}

// Resend replaces the code of user in place and delivers it. While the
// latest code is still live the request is refused with ErrResendTooSoon
// and the remaining wait.
func (e *Engine) Resend(ctx context.Context, user *models.User, purpose models.OTPPurpose) (string, error) {
	now := e.cfg.Now()

	latest, err := e.store.LatestOTP(ctx, user.ID, purpose)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load otp: %w", err)
	}
	if latest != nil && latest.Live(now) {
		wait := latest.Remaining(now)
		return "", apperr.Throttled(
			fmt.Sprintf("Please wait %s before requesting a new code", email.FormatDuration(wait)),
			wait, ErrResendTooSoon)
	}

	code, hash, err := e.newCode()
	if err != nil {
		return "", err
	}
	expiresAt := now.Add(e.cfg.Expiry)

	var id int64
	if latest != nil && !latest.Consumed {
		err = e.store.ReplaceOTP(ctx, latest.ID, hash, expiresAt)
		id = latest.ID
	}
	if latest == nil || latest.Consumed || errors.Is(err, repository.ErrConsumed) {
		record := &models.OTP{UserID: user.ID, Purpose: purpose, CodeHash: hash, ExpiresAt: expiresAt}
		err = e.store.CreateOTP(ctx, record)
		id = record.ID
	}
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	if err := e.deliver(ctx, user, id, code); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "otp_resent", "user_id", user.ID, "purpose", purpose)
	return code, nil
}

// Verify checks code against the most recent record for (userID, purpose).
// On success the record is consumed and the user marked verified atomically.
// Each wrong guess is counted; the guess that reaches MaxAttempts invalidates
// the record and later guesses, right or wrong, get ErrTooManyTries.
func (e *Engine) Verify(ctx context.Context, userID int64, purpose models.OTPPurpose, code string) error {
	latest, err := e.store.LatestOTP(ctx, userID, purpose)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}

	switch {
	case latest.Consumed:
		return ErrAlreadyUsed
	case latest.FailedAttempts >= e.cfg.MaxAttempts:
		return ErrTooManyTries
	case latest.Expired(e.cfg.Now()):
		return ErrExpired
	case !ValidCode(code):
		return ErrMismatch
	}

	if bcrypt.CompareHashAndPassword([]byte(latest.CodeHash), []byte(code)) != nil {
		return e.recordFailure(ctx, latest)
	}

	err = e.store.ConsumeOTPAndVerifyUser(ctx, latest.ID, latest.CodeHash, userID)
	switch {
	case errors.Is(err, repository.ErrConsumed):
		return ErrAlreadyUsed
	case errors.Is(err, repository.ErrStale):
		return ErrSuperseded
	case err != nil:
		return fmt.Errorf("consume otp: %w", err)
	}

	e.logger.InfoContext(ctx, "otp_verified", "user_id", userID, "purpose", purpose)
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, record *models.OTP) error {
	attempts, err := e.store.RecordOTPFailure(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("record otp failure: %w", err)
	}
	e.logger.InfoContext(ctx, "otp_mismatch",
		"user_id", record.UserID, "purpose", record.Purpose, "attempts", attempts)

	if attempts < e.cfg.MaxAttempts {
		return ErrMismatch
	}

	// Expired records can be resent right away.
	if err := e.store.ExpireOTP(ctx, record.ID, e.cfg.Now().Add(-time.Second)); err != nil {
		return fmt.Errorf("invalidate otp: %w", err)
	}
	e.logger.WarnContext(ctx, "otp_locked", "user_id", record.UserID, "purpose", record.Purpose)
	return ErrTooManyTries
}

// Throttle counts one request for action by emailAddr and refuses it once
// the configured budget is spent.
func (e *Engine) Throttle(ctx context.Context, action, emailAddr string) error {
	if e.limiter == nil {
		return nil
	}

	d, err := e.limiter.Allow(ctx, action+":"+emailAddr)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if !d.Allowed {
		e.logger.WarnContext(ctx, "rate_limited", "action", action, "retry_after", d.RetryAfter)
		return apperr.Throttled(
			fmt.Sprintf("Too many requests, try again in %s", email.FormatDuration(d.RetryAfter)),
			d.RetryAfter, ErrRateLimited)
	}
	return nil
}

// deliver sends code to user. A failed delivery expires the record so that
// an immediate resend is not refused for a code nobody received.
func (e *Engine) deliver(ctx context.Context, user *models.User, otpID int64, code string) error {
	msg := email.OTPMessage(ctx, user.Email, user.FirstName, code, e.cfg.Expiry)
	sendErr := e.sender.Send(ctx, msg)
	if sendErr == nil {
		return nil
	}

	e.logger.ErrorContext(ctx, "otp_delivery_failed", "user_id", user.ID, "error", sendErr)
	if err := e.store.ExpireOTP(ctx, otpID, e.cfg.Now().Add(-time.Second)); err != nil {
		e.logger.ErrorContext(ctx, "otp_invalidate_failed", "otp_id", otpID, "error", err)
	}
	return apperr.Wrap(apperr.Dependency, ErrDelivery.Message, errors.Join(ErrDelivery, sendErr))
}

func (e *Engine) newCode() (code, hash string, err error) {
	code, err = GenerateCode()
	if err != nil {
		return "", "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(code), e.cfg.HashCost)
	if err != nil {
		return "", "", fmt.Errorf("hash otp: %w", err)
	}
	return code, string(h), nil
}

// GenerateCode returns a uniformly random code in 000000-999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ValidCode reports whether s is exactly CodeLength ASCII digits.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
