// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/apperr"
)

const internalErrorMessage = "Internal server error"

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Authentication:
		return http.StatusUnauthorized
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a failed envelope. Classified errors expose their
// message; everything else is logged and reported as an opaque 500.
func Error(c echo.Context, err error) error {
	ctx := c.Request().Context()

	e, ok := apperr.From(err)
	if !ok || e.Kind == apperr.Dependency {
		slog.ErrorContext(ctx, "request_failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, Envelope{Message: internalErrorMessage})
	}

	if e.Kind == apperr.RateLimited && e.RetryAfter > 0 {
		seconds := int(math.Ceil(e.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	return c.JSON(StatusFor(e.Kind), Envelope{Message: e.Message, Errors: e.Fields})
}

// HTTPErrorHandler renders errors that escape handlers, including echo's own
// routing and body-limit errors, as envelopes.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			message = m
		}
		if he.Code >= http.StatusInternalServerError {
			slog.ErrorContext(c.Request().Context(), "request_failed", "error", err)
		}
		err = c.JSON(he.Code, Envelope{Message: message})
	} else {
		err = Error(c, err)
	}

	if err != nil {
		slog.ErrorContext(c.Request().Context(), "write_error_response_failed", "error", err)
	}
}
