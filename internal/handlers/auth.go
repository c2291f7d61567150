// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/apperr"
	"github.com/taskdeck/taskdeck/internal/auth"
	authsvc "github.com/taskdeck/taskdeck/internal/services/auth"
)

// errNotAuthenticated guards protected handlers mounted without middleware.
var errNotAuthenticated = apperr.New(apperr.Authentication, "Authentication required")

// AuthHandlers contains handlers for authentication.
type AuthHandlers struct {
	svc *authsvc.Service
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(svc *authsvc.Service) *AuthHandlers {
	return &AuthHandlers{svc: svc}
}

// SignupRequest is the request body for signup.
type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// VerifyOTPRequest is the request body for confirming a signup code.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendOTPRequest is the request body for requesting a new signup code.
type ResendOTPRequest struct {
	Email string `json:"email"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SSORequest is the request body for SSO login. The email is taken from the
// verified assertion; the one in the body is accepted for compatibility and
// ignored.
type SSORequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	LoginMode string `json:"login_mode"`
	SSOToken  string `json:"sso_token"`
}

// Signup creates an unverified account and mails a signup code.
func (h *AuthHandlers) Signup(c echo.Context) error {
	var req SignupRequest
	if err := bind(c, &req); err != nil {
		return Error(c, err)
	}

	user, err := h.svc.Signup(c.Request().Context(), authsvc.SignupParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusCreated, "User created. Please verify with OTP.", map[string]any{"user": user})
}

// VerifyOTP confirms a signup code.
func (h *AuthHandlers) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := bind(c, &req); err != nil {
		return Error(c, err)
	}

	if err := h.svc.VerifySignup(c.Request().Context(), req.Email, req.Code); err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusOK, "User successfully verified. Please login", nil)
}

// ResendOTP mails a new signup code.
func (h *AuthHandlers) ResendOTP(c echo.Context) error {
	var req ResendOTPRequest
	if err := bind(c, &req); err != nil {
		return Error(c, err)
	}

	if err := h.svc.ResendSignup(c.Request().Context(), req.Email); err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusOK, "OTP sent successfully", nil)
}

// Login authenticates with email and password.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return Error(c, err)
	}

	session, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusOK, "Login successful", session)
}

// LoginSSO authenticates with an identity provider assertion.
func (h *AuthHandlers) LoginSSO(c echo.Context) error {
	var req SSORequest
	if err := bind(c, &req); err != nil {
		return Error(c, err)
	}

	session, err := h.svc.LoginSSO(c.Request().Context(), authsvc.SSOParams{
		Provider:  req.LoginMode,
		Assertion: req.SSOToken,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusOK, "Login successful", session)
}

// Me returns the authenticated user.
func (h *AuthHandlers) Me(c echo.Context) error {
	user := auth.GetUser(c.Request().Context())
	if user == nil {
		return Error(c, errNotAuthenticated)
	}
	return Respond(c, http.StatusOK, "User fetched", map[string]any{"user": user})
}

// Logout revokes every token of the authenticated user.
func (h *AuthHandlers) Logout(c echo.Context) error {
	user := auth.GetUser(c.Request().Context())
	if user == nil {
		return Error(c, errNotAuthenticated)
	}

	if err := h.svc.Logout(c.Request().Context(), user.ID); err != nil {
		return Error(c, err)
	}

	return Respond(c, http.StatusOK, "Logged out", nil)
}
