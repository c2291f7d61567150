// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/taskdeck/taskdeck/internal/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("otp_delivery_failed", "user_id", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"otp_delivery_failed"`)
	assert.Contains(t, out, `"user_id":7`)
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer

	newLogger(&buf, "debug", "text").Debug("token_issued")

	assert.Contains(t, buf.String(), "token_issued")
}

func newMiddlewareEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	setupMiddleware(e, cfg, newLogger(&bytes.Buffer{}, "error", "json"))
	e.POST("/auth/login", func(c echo.Context) error {
		return c.String(http.StatusOK, "login")
	})
	return e
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		MaxBodySize: 1,
		CORSOrigins: []string{"https://app.taskdeck.test"},
	}}
	e := newMiddlewareEcho(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set(echo.HeaderOrigin, "https://app.taskdeck.test")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(echo.HeaderAccessControlRequestHeaders, "authorization,content-type")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.taskdeck.test", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, strings.ToLower(rec.Header().Get(echo.HeaderAccessControlAllowHeaders)), "authorization")
}

func TestMiddleware_CORSRejectsOtherOrigins(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		MaxBodySize: 1,
		CORSOrigins: []string{"https://app.taskdeck.test"},
	}}
	e := newMiddlewareEcho(cfg)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestMiddleware_TrailingSlashAndHeaders(t *testing.T) {
	e := newMiddlewareEcho(&config.Config{Server: config.ServerConfig{MaxBodySize: 1}})

	req := httptest.NewRequest(http.MethodPost, "/auth/login/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "login", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
}

func TestMiddleware_BodyLimit(t *testing.T) {
	e := newMiddlewareEcho(&config.Config{Server: config.ServerConfig{MaxBodySize: 1}})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(make([]byte, 2<<20)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
