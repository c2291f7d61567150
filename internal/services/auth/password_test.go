// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taskdeck/taskdeck/internal/services/auth"
)

func TestPasswordValidator(t *testing.T) {
	v := auth.DefaultPasswordValidator()

	tests := []struct {
		name       string
		password   string
		attributes []string
		messages   []string
	}{
		{"acceptable", "secret1", []string{"ann@example.com", "ann"}, nil},
		{"too short", "ab1", nil, []string{"Password must be at least 6 characters"}},
		{"numeric", "98127364", nil, []string{"Password cannot be entirely numeric"}},
		{"short and numeric", "12", nil, []string{
			"Password must be at least 6 characters",
			"Password cannot be entirely numeric",
		}},
		{"common", "Password1", nil, []string{"Password is too common"}},
		{"contains email name", "annabelle77", []string{"annabelle@example.com", "annabelle"}, []string{
			"Password is too similar to your personal information",
		}},
		{"short attributes ignored", "al-secret", []string{"al"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := v.Validate(tt.password, tt.attributes...)

			var got []string
			for _, f := range fields {
				assert.Equal(t, "password", f.Field)
				got = append(got, f.Message)
			}
			assert.Equal(t, tt.messages, got)
		})
	}
}

func TestPasswordValidator_ChecksCanBeDisabled(t *testing.T) {
	v := &auth.PasswordValidator{MinLength: 6}

	assert.Empty(t, v.Validate("password", "password@example.com"))
}
