// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/taskdeck/taskdeck/internal/apperr"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    any                 `json:"data,omitempty"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

// Respond writes a successful envelope.
func Respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// errMalformedBody is returned for bodies that are not valid JSON.
var errMalformedBody = apperr.New(apperr.Validation, "Malformed request body")

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errMalformedBody
	}
	return nil
}
