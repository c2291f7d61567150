// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers outbound messages.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/i18n"
	"github.com/wneessen/go-mail"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages. A returned error means the message was not
// accepted for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender returns an SMTP sender, or a LogSender when no SMTP host is
// configured.
func NewSender(cfg *config.SMTPConfig, logger *slog.Logger) (Sender, error) {
	if cfg.Host == "" {
		logger.Warn("smtp host not configured, emails are logged instead of sent")
		return &LogSender{logger: logger}, nil
	}
	return NewSMTPSender(cfg)
}

// SMTPSender sends mail via SMTP using go-mail.
type SMTPSender struct {
	cfg *config.SMTPConfig
}

// NewSMTPSender creates a new SMTP sender.
func NewSMTPSender(cfg *config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("SMTP from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers msg and honors ctx cancellation while talking to the server.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.Compose(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// Compose builds the MIME message. The text part is always present, HTML is
// added as an alternative when set.
func (s *SMTPSender) Compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}

	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}

	return m, nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(15 * time.Second),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Implicit TLS on 465, STARTTLS elsewhere
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}

// LogSender writes messages to the log. Used in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs every message at info level.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email_logged",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

// OTPMessage renders the passcode email in the locale carried by ctx.
func OTPMessage(ctx context.Context, to, name, code string, validFor time.Duration) Message {
	if name == "" {
		name = to
	}
	data := map[string]any{
		"Name":     name,
		"Code":     code,
		"ValidFor": FormatDuration(validFor),
	}
	return Message{
		To:      to,
		Subject: i18n.T(ctx, "otp_subject"),
		Text:    i18n.TData(ctx, "otp_body_text", data),
		HTML:    i18n.TData(ctx, "otp_body_html", data),
	}
}

// FormatDuration renders d as minutes and seconds, e.g. "9m 59s".
// Sub-second remainders round up so a pending wait never reads as "0m 0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
