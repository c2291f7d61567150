// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/handlers"
	"github.com/taskdeck/taskdeck/internal/middleware"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/repository"
	"github.com/taskdeck/taskdeck/internal/services/epoch"
	"github.com/taskdeck/taskdeck/internal/services/token"
	"github.com/taskdeck/taskdeck/internal/testutil"
)

type fixture struct {
	echo      *echo.Echo
	repo      *repository.Repository
	issuer    *token.Issuer
	validator *token.Validator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	epochs := epoch.NewMemoryStore()
	cfg := token.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), Issuer: "taskdeck-test"}

	issuer, err := token.NewIssuer(epochs, cfg, nil)
	require.NoError(t, err)
	validator, err := token.NewValidator(epochs, repo, cfg)
	require.NoError(t, err)

	return &fixture{echo: echo.New(), repo: repo, issuer: issuer, validator: validator}
}

func (f *fixture) serve(v middleware.TokenValidator, authorization string) *httptest.ResponseRecorder {
	h := middleware.RequireAuth(v)(func(c echo.Context) error {
		user := auth.GetUser(c.Request().Context())
		return c.String(http.StatusOK, user.Email)
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	_ = h(f.echo.NewContext(req, rec))
	return rec
}

func (f *fixture) issue(t *testing.T, user *models.User) string {
	t.Helper()
	issued, err := f.issuer.Issue(context.Background(), user.ID, token.KindLogin)
	require.NoError(t, err)
	return issued.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) handlers.Envelope {
	t.Helper()
	var env handlers.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRequireAuth_AttachesUser(t *testing.T) {
	f := setup(t)
	user := testutil.NewTestUser(t, f.repo, "ann@example.com", true)
	raw := f.issue(t, user)

	for _, scheme := range []string{"Bearer ", "bearer ", "BEARER  "} {
		rec := f.serve(f.validator, scheme+raw)
		assert.Equal(t, http.StatusOK, rec.Code, scheme)
		assert.Equal(t, "ann@example.com", rec.Body.String())
	}
}

func TestRequireAuth_Rejections(t *testing.T) {
	f := setup(t)
	verified := testutil.NewTestUser(t, f.repo, "ann@example.com", true)
	pending := testutil.NewTestUser(t, f.repo, "bob@example.com", false)

	revoked := f.issue(t, verified)
	f.issue(t, verified)

	tests := []struct {
		name          string
		authorization string
		status        int
		message       string
	}{
		{"missing header", "", http.StatusUnauthorized, "Unauthorized"},
		{"wrong scheme", "Basic YW5uOnNlY3JldA==", http.StatusUnauthorized, "Unauthorized"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "Unauthorized"},
		{"malformed", "Bearer not-a-token", http.StatusUnauthorized, "Unauthorized"},
		{"revoked", "Bearer " + revoked, http.StatusUnauthorized, "Unauthorized"},
		{"unverified", "Bearer " + f.issue(t, pending), http.StatusForbidden, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(f.validator, tt.authorization)

			assert.Equal(t, tt.status, rec.Code)
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.message, env.Message)
		})
	}
}

type brokenValidator struct{}

func (brokenValidator) Validate(context.Context, string, ...token.Kind) (*models.User, *token.Claims, error) {
	return nil, nil, errors.New("epoch store unreachable")
}

func TestRequireAuth_StoreFailure(t *testing.T) {
	f := setup(t)

	rec := f.serve(brokenValidator{}, "Bearer anything")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "Internal server error", env.Message)
	assert.NotContains(t, rec.Body.String(), "unreachable")
}
