// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package i18n_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/i18n"
	"golang.org/x/text/language"
)

func TestInit(t *testing.T) {
	require.NoError(t, i18n.Init())
	require.NoError(t, i18n.Init())
}

func TestT(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.English)

	assert.Equal(t, "Your Taskdeck verification code", i18n.T(ctx, "otp_subject"))
}

func TestT_German(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.German)

	assert.Equal(t, "Dein Taskdeck-Bestätigungscode", i18n.T(ctx, "otp_subject"))
}

func TestT_UnknownKey(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.English)

	assert.Equal(t, "unknown_key_that_does_not_exist", i18n.T(ctx, "unknown_key_that_does_not_exist"))
}

func TestT_NoLocaleContext(t *testing.T) {
	assert.Equal(t, "Taskdeck", i18n.T(context.Background(), "app_name"))
}

func TestTData(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.English)

	body := i18n.TData(ctx, "otp_body_text", map[string]any{
		"Name":     "Ann",
		"Code":     "042917",
		"ValidFor": "10m 0s",
	})

	assert.Contains(t, body, "Hello Ann")
	assert.Contains(t, body, "042917")
	assert.Contains(t, body, "10m 0s")
}

func TestGetLocale(t *testing.T) {
	assert.Equal(t, "en", i18n.GetLocale(context.Background()))

	ctx := i18n.WithLocale(context.Background(), language.German)
	assert.Equal(t, "de", i18n.GetLocale(ctx))
}

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		header   string
		expected language.Tag
	}{
		{"de-DE,de;q=0.9,en;q=0.8", language.German},
		{"en-US,en;q=0.9", language.English},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.expected, i18n.MatchLanguage(tt.header))
		})
	}
}
