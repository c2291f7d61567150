// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements signup, passcode verification, password login and
// SSO login on top of the otp, sso and token services.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/taskdeck/taskdeck/internal/apperr"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/repository"
	"github.com/taskdeck/taskdeck/internal/services/otp"
	"github.com/taskdeck/taskdeck/internal/services/sso"
	"github.com/taskdeck/taskdeck/internal/services/token"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = apperr.New(apperr.Authentication, "Invalid credentials")
	ErrUnverified         = apperr.New(apperr.Authorization, "User not verified")
	ErrUserExists         = apperr.New(apperr.Validation, "User already exists")
	ErrUserNotFound       = apperr.New(apperr.NotFound, "User not found")
	ErrAlreadyVerified    = apperr.New(apperr.Validation, "User already verified")
	ErrSSORejected        = apperr.New(apperr.Authentication, "Invalid SSO token")
)

// Rate limiter actions.
const (
	ActionSignup = "signup"
	ActionResend = "resend"
)

// Store is the slice of the credential store the service needs.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	VerifyUserAndResetPassword(ctx context.Context, id int64, passwordHash string) error
}

// Config tunes the service.
type Config struct {
	BcryptCost int
	Passwords  *PasswordValidator
}

// Service handles account authentication.
type Service struct {
	users     Store
	otps      *otp.Engine
	sso       *sso.Registry
	tokens    *token.Issuer
	cfg       Config
	dummyHash []byte
	logger    *slog.Logger
}

// NewService creates a service.
func NewService(users Store, otps *otp.Engine, registry *sso.Registry, tokens *token.Issuer, cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Passwords == nil {
		cfg.Passwords = DefaultPasswordValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Compared against on unknown emails so a miss costs as much as a hit.
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &Service{
		users:     users,
		otps:      otps,
		sso:       registry,
		tokens:    tokens,
		cfg:       cfg,
		dummyHash: dummy,
		logger:    logger,
	}, nil
}

// SignupParams is a signup request.
type SignupParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// SSOParams is an SSO login request. Names are used only when the provider
// does not assert them.
type SSOParams struct {
	Provider  string
	Assertion string
	FirstName string
	LastName  string
}

// Session is the result of a successful login.
type Session struct {
	*token.Issued
	User *models.User `json:"user"`
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Signup creates an unverified account and mails it a signup passcode.
func (s *Service) Signup(ctx context.Context, p SignupParams) (*models.User, error) {
	p.Email = NormalizeEmail(p.Email)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)

	fields := validateEmail(nil, p.Email)
	fields = append(fields, s.cfg.Passwords.Validate(p.Password, p.Email, localPart(p.Email))...)
	fields = validateName(fields, "firstName", "First name", p.FirstName)
	fields = validateName(fields, "lastName", "Last name", p.LastName)
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields...)
	}

	if err := s.otps.Throttle(ctx, ActionSignup, p.Email); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, p.Email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:        p.Email,
		PasswordHash: string(hash),
		FirstName:    p.FirstName,
		LastName:     p.LastName,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	// The account stays; a failed delivery is recovered through resend.
	if _, err := s.otps.Issue(ctx, user, models.PurposeSignup); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "signup_success", "user_id", user.ID)
	return user, nil
}

// VerifySignup confirms the signup passcode of email and marks the account
// verified.
func (s *Service) VerifySignup(ctx context.Context, addr, code string) error {
	addr = NormalizeEmail(addr)

	fields := validateEmail(nil, addr)
	if !otp.ValidCode(code) {
		fields = append(fields, apperr.FieldError{Field: "code", Message: "OTP must be 6 digits"})
	}
	if len(fields) > 0 {
		return apperr.Invalid(fields...)
	}

	user, err := s.pendingUser(ctx, addr)
	if err != nil {
		return err
	}

	return s.otps.Verify(ctx, user.ID, models.PurposeSignup, code)
}

// ResendSignup mails a fresh signup passcode. The rate limit applies before
// the account lookup, so unknown addresses are throttled too.
func (s *Service) ResendSignup(ctx context.Context, addr string) error {
	addr = NormalizeEmail(addr)
	if fields := validateEmail(nil, addr); len(fields) > 0 {
		return apperr.Invalid(fields...)
	}

	if err := s.otps.Throttle(ctx, ActionResend, addr); err != nil {
		return err
	}

	user, err := s.pendingUser(ctx, addr)
	if err != nil {
		return err
	}

	_, err = s.otps.Resend(ctx, user, models.PurposeSignup)
	return err
}

func (s *Service) pendingUser(ctx context.Context, addr string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Verified {
		return nil, ErrAlreadyVerified
	}
	return user, nil
}

// Authenticate checks email and password. Unknown email and wrong password
// are indistinguishable. The verified flag is checked last.
func (s *Service) Authenticate(ctx context.Context, addr, password string) (*models.User, error) {
	addr = NormalizeEmail(addr)

	user, err := s.users.GetUserByEmail(ctx, addr)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.logger.InfoContext(ctx, "login_failed", "reason", "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.InfoContext(ctx, "login_failed", "reason", "wrong_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	if !user.Verified {
		s.logger.InfoContext(ctx, "login_failed", "reason", "unverified", "user_id", user.ID)
		return nil, ErrUnverified
	}

	return user, nil
}

// Login authenticates and issues a login token. Tokens issued earlier to the
// same user stop validating.
func (s *Service) Login(ctx context.Context, addr, password string) (*Session, error) {
	addr = NormalizeEmail(addr)

	fields := validateEmail(nil, addr)
	if password == "" {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "Password is required"})
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields...)
	}

	user, err := s.Authenticate(ctx, addr, password)
	if err != nil {
		return nil, err
	}

	return s.startSession(ctx, user, "password")
}

// LoginSSO verifies a provider assertion, links or provisions the account of
// the asserted email and issues a login token.
func (s *Service) LoginSSO(ctx context.Context, p SSOParams) (*Session, error) {
	if strings.TrimSpace(p.Provider) == "" || strings.TrimSpace(p.Assertion) == "" {
		var fields []apperr.FieldError
		if strings.TrimSpace(p.Provider) == "" {
			fields = append(fields, apperr.FieldError{Field: "login_mode", Message: "Login mode is required"})
		}
		if strings.TrimSpace(p.Assertion) == "" {
			fields = append(fields, apperr.FieldError{Field: "sso_token", Message: "SSO token is required"})
		}
		return nil, apperr.Invalid(fields...)
	}

	identity := s.sso.Verify(ctx, p.Provider, p.Assertion)
	if identity == nil {
		return nil, ErrSSORejected
	}

	user, err := s.linkIdentity(ctx, identity, p)
	if err != nil {
		return nil, err
	}

	return s.startSession(ctx, user, identity.Provider)
}

func (s *Service) linkIdentity(ctx context.Context, identity *sso.Identity, p SSOParams) (*models.User, error) {
	addr := NormalizeEmail(identity.Email)

	user, err := s.users.GetUserByEmail(ctx, addr)
	switch {
	case err == nil:
		return s.markVerified(ctx, user)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	placeholder, err := s.placeholderHash()
	if err != nil {
		return nil, err
	}

	user = &models.User{
		Email:        addr,
		PasswordHash: placeholder,
		FirstName:    firstNonEmpty(identity.FirstName, strings.TrimSpace(p.FirstName)),
		LastName:     firstNonEmpty(identity.LastName, strings.TrimSpace(p.LastName)),
		Verified:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// Lost a race with a concurrent signup or SSO login for the same email.
		existing, err := s.users.GetUserByEmail(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		return s.markVerified(ctx, existing)
	}

	s.logger.InfoContext(ctx, "sso_account_created", "user_id", user.ID, "provider", identity.Provider)
	return user, nil
}

// markVerified verifies an account reached through SSO. An unverified
// account loses its password hash to a placeholder in the same update.
func (s *Service) markVerified(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Verified {
		return user, nil
	}
	placeholder, err := s.placeholderHash()
	if err != nil {
		return nil, err
	}
	if err := s.users.VerifyUserAndResetPassword(ctx, user.ID, placeholder); err != nil {
		return nil, fmt.Errorf("verify user: %w", err)
	}
	s.logger.InfoContext(ctx, "sso_account_claimed", "user_id", user.ID)
	return s.Me(ctx, user.ID)
}

// placeholderHash hashes random bytes nobody knows, so SSO-only accounts
// cannot log in with a password.
func (s *Service) placeholderHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate placeholder password: %w", err)
	}
	// bcrypt only reads 72 bytes; hex keeps the input printable and under that.
	hash, err := bcrypt.GenerateFromPassword(fmt.Appendf(nil, "%x", secret[:24]), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash placeholder password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) startSession(ctx context.Context, user *models.User, method string) (*Session, error) {
	issued, err := s.tokens.Issue(ctx, user.ID, token.KindLogin)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.InfoContext(ctx, "login_success", "user_id", user.ID, "method", method)
	return &Session{Issued: issued, User: user}, nil
}

// Logout revokes every token issued to userID.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// Me reloads the account of userID.
func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func validateEmail(fields []apperr.FieldError, addr string) []apperr.FieldError {
	parsed, err := mail.ParseAddress(addr)
	if addr == "" || err != nil || parsed.Address != addr {
		return append(fields, apperr.FieldError{Field: "email", Message: "Invalid email format"})
	}
	return fields
}

func validateName(fields []apperr.FieldError, field, label, value string) []apperr.FieldError {
	if len([]rune(value)) < 2 {
		return append(fields, apperr.FieldError{Field: field, Message: label + " must be at least 2 characters"})
	}
	return fields
}

func localPart(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at > 0 {
		return addr[:at]
	}
	return addr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
