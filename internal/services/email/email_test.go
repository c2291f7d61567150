// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/i18n"
	"github.com/taskdeck/taskdeck/internal/services/email"
	"golang.org/x/text/language"
)

func validSMTPConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "testuser",
		Password: "testpass",
		From:     "noreply@example.com",
		FromName: "Taskdeck",
		TLS:      true,
	}
}

func TestNewSMTPSender(t *testing.T) {
	sender, err := email.NewSMTPSender(validSMTPConfig())

	require.NoError(t, err)
	assert.NotNil(t, sender)
}

func TestNewSMTPSender_MissingHost(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.Host = ""

	_, err := email.NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP host is required")
}

func TestNewSMTPSender_MissingFrom(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.From = ""

	_, err := email.NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP from address is required")
}

func TestNewSender_FallsBackToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	sender, err := email.NewSender(&config.SMTPConfig{}, logger)
	require.NoError(t, err)
	require.IsType(t, &email.LogSender{}, sender)

	err = sender.Send(context.Background(), email.Message{To: "ann@example.com", Subject: "Hi", Text: "code 123456"})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "email_logged")
	assert.Contains(t, buf.String(), "ann@example.com")
}

func TestCompose(t *testing.T) {
	sender, err := email.NewSMTPSender(validSMTPConfig())
	require.NoError(t, err)

	msg, err := sender.Compose(email.Message{
		To:      "ann@example.com",
		Subject: "Your code",
		Text:    "code 042917",
		HTML:    "<p>code <strong>042917</strong></p>",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "ann@example.com")
	assert.Contains(t, raw, "noreply@example.com")
	assert.Contains(t, raw, "Subject: Your code")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
}

func TestCompose_InvalidRecipient(t *testing.T) {
	sender, err := email.NewSMTPSender(validSMTPConfig())
	require.NoError(t, err)

	_, err = sender.Compose(email.Message{To: "not an address"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "setting to address")
}

func TestOTPMessage(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.English)

	msg := email.OTPMessage(ctx, "ann@example.com", "Ann", "042917", 10*time.Minute)

	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "Your Taskdeck verification code", msg.Subject)
	assert.Contains(t, msg.Text, "042917")
	assert.Contains(t, msg.Text, "10m 0s")
	assert.Contains(t, msg.HTML, "<strong>042917</strong>")
}

func TestOTPMessage_German(t *testing.T) {
	ctx := i18n.WithLocale(context.Background(), language.German)

	msg := email.OTPMessage(ctx, "ann@example.com", "", "042917", 10*time.Minute)

	assert.Contains(t, msg.Text, "Hallo ann@example.com")
	assert.Contains(t, msg.Text, "042917")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in       time.Duration
		expected string
	}{
		{10 * time.Minute, "10m 0s"},
		{9*time.Minute + 59*time.Second, "9m 59s"},
		{9*time.Minute + 58*time.Second + 200*time.Millisecond, "9m 59s"},
		{500 * time.Millisecond, "0m 1s"},
		{0, "0m 0s"},
		{-time.Second, "0m 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, email.FormatDuration(tt.in))
		})
	}
}
