// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package sso verifies identity assertions issued by external providers.
package sso

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

var (
	ErrUnknownProvider = errors.New("unknown sso provider")
	ErrIssuer          = errors.New("issuer not allowed")
	ErrNoEmail         = errors.New("assertion carries no email")
	ErrEmailUnverified = errors.New("provider has not verified the email")
)

// Identity is the verified subject of an assertion.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// Provider verifies assertions of one identity provider.
type Provider interface {
	Name() string
	// Verify returns the identity of a valid assertion, or an error that
	// explains the rejection for server-side logs.
	Verify(ctx context.Context, assertion string) (*Identity, error)
}

// Registry dispatches assertions to providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRegistry creates a registry with the given providers.
func NewRegistry(logger *slog.Logger, providers ...Provider) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{providers: make(map[string]Provider), logger: logger}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Verify returns the identity asserted by assertion, or nil when the
// provider is unknown or the assertion is rejected for any reason. The
// reason is logged and never returned.
func (r *Registry) Verify(ctx context.Context, provider, assertion string) *Identity {
	r.mu.RLock()
	p, ok := r.providers[strings.ToLower(provider)]
	r.mu.RUnlock()

	if !ok {
		r.logger.WarnContext(ctx, "sso_rejected", "provider", provider, "error", ErrUnknownProvider)
		return nil
	}

	identity, err := p.Verify(ctx, assertion)
	if err != nil {
		r.logger.WarnContext(ctx, "sso_rejected", "provider", p.Name(), "error", err)
		return nil
	}
	if identity == nil || identity.Email == "" {
		r.logger.WarnContext(ctx, "sso_rejected", "provider", p.Name(), "error", ErrNoEmail)
		return nil
	}

	identity.Provider = p.Name()
	return identity
}
