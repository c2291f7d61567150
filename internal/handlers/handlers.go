// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers translates HTTP requests into service calls and service
// results into JSON envelopes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/repository"
)

// Handlers contains the handlers that are not tied to a service.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Health reports whether the server can reach its database.
func (h *Handlers) Health(c echo.Context) error {
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.DB().PingContext(ctx); err != nil {
			slog.ErrorContext(ctx, "health_check_failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
