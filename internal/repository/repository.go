// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package repository implements the credential store on top of sqlx.
package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vinovest/sqlx"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("record already exists")
	// ErrConsumed is returned when a conditional consume matched no row.
	ErrConsumed = errors.New("record already consumed")
	// ErrStale is returned when a conditional update found the record
	// changed since it was read.
	ErrStale = errors.New("record changed since read")
)

// Repository wraps sqlx for database operations.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying connection.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return ErrDuplicate
	default:
		return err
	}
}

// timestamp normalizes a time for storage. Whole seconds in UTC keep the
// stored text sortable.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
