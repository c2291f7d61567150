// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package apperr_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/apperr"
)

func TestKindOf(t *testing.T) {
	sentinel := apperr.New(apperr.Authentication, "Invalid credentials")

	tests := []struct {
		name     string
		err      error
		expected apperr.Kind
	}{
		{"sentinel", sentinel, apperr.Authentication},
		{"wrapped sentinel", fmt.Errorf("login: %w", sentinel), apperr.Authentication},
		{"plain error", errors.New("disk full"), apperr.Dependency},
		{"validation", apperr.Invalid(apperr.FieldError{Field: "email", Message: "Invalid email format"}), apperr.Validation},
		{"throttled", apperr.Throttled("slow down", time.Second, nil), apperr.RateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apperr.KindOf(tt.err))
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := apperr.Wrap(apperr.Dependency, "Signup failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "Signup failed: connection refused", err.Error())
}

func TestWrap_OutermostKindWins(t *testing.T) {
	inner := apperr.New(apperr.NotFound, "otp not found")

	err := apperr.Throttled("try later", 5*time.Second, inner)

	assert.Equal(t, apperr.RateLimited, apperr.KindOf(err))
	assert.ErrorIs(t, err, inner)

	got, ok := apperr.From(err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, got.RetryAfter)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "validation", apperr.Validation.String())
	assert.Equal(t, "rate_limited", apperr.RateLimited.String())
	assert.Equal(t, "dependency", apperr.Dependency.String())
}
