// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"time"
)

// Kind classifies an error for translation at the HTTP boundary.
type Kind int

const (
	// Dependency covers store and mail failures. It is the zero value so that
	// unclassified errors are treated as opaque server errors.
	Dependency Kind = iota
	Validation
	Authentication
	Authorization
	RateLimited
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	default:
		return "dependency"
	}
}

// FieldError is a single field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified error with a client-safe message.
type Error struct { //nolint:govet // fieldalignment: readability over optimization
	Kind       Kind
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	cause      error
}

// New creates a classified error. Sentinels built with New compare by identity.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause under kind with a client-safe message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Invalid builds a validation error from field messages.
func Invalid(fields ...FieldError) *Error {
	return &Error{Kind: Validation, Message: "Invalid input", Fields: fields}
}

// Throttled builds a rate-limited error that tells the client when to retry.
func Throttled(message string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfter: retryAfter, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Dependency
}

// From returns the outermost classified error in the chain, if any.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
