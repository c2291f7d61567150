// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/i18n"
	"github.com/taskdeck/taskdeck/internal/middleware"
)

func TestLocale(t *testing.T) {
	require.NoError(t, i18n.Init())

	tests := []struct {
		header   string
		expected string
	}{
		{"de-DE,de;q=0.9", "de"},
		{"en-US", "en"},
		{"fr-FR", "en"},
		{"", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			var got string
			h := middleware.Locale()(func(c echo.Context) error {
				got = i18n.GetLocale(c.Request().Context())
				return nil
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept-Language", tt.header)
			require.NoError(t, h(echo.New().NewContext(req, httptest.NewRecorder())))

			assert.Equal(t, tt.expected, got)
		})
	}
}
