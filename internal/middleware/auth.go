// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware contains echo middleware shared by the routes.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/apperr"
	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/handlers"
	"github.com/taskdeck/taskdeck/internal/models"
	"github.com/taskdeck/taskdeck/internal/services/token"
)

var errMissingToken = errors.New("missing bearer token")

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, raw string, accept ...token.Kind) (*models.User, *token.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token of one of the
// accepted kinds (login when none are given) and attaches the token's user
// to the request context. Rejections carry a generic message; the reason is
// only logged.
func RequireAuth(v TokenValidator, accept ...token.Kind) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return reject(c, errMissingToken)
			}

			user, claims, err := v.Validate(ctx, raw, accept...)
			if err != nil {
				return reject(c, err)
			}

			c.SetRequest(c.Request().WithContext(auth.WithUser(ctx, user, claims)))
			return next(c)
		}
	}
}

func reject(c echo.Context, err error) error {
	ctx := c.Request().Context()

	switch kind := apperr.KindOf(err); {
	case errors.Is(err, errMissingToken), kind == apperr.Authentication:
		slog.InfoContext(ctx, "token_rejected", "path", c.Path(), "reason", err)
		return handlers.Error(c, apperr.Wrap(apperr.Authentication, "Unauthorized", err))
	case kind == apperr.Authorization:
		slog.InfoContext(ctx, "token_rejected", "path", c.Path(), "reason", err)
		return handlers.Error(c, apperr.Wrap(apperr.Authorization, "Forbidden", err))
	default:
		return handlers.Error(c, err)
	}
}

// bearerToken extracts the credentials of a "Bearer" authorization header.
// The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
