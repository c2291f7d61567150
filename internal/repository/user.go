// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"github.com/taskdeck/taskdeck/internal/models"
)

// CreateUser inserts user and fills in its ID and timestamps.
// A taken email yields ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	now := timestamp(time.Now())
	user.CreatedAt = now
	user.UpdatedAt = now

	err := r.db.GetContext(ctx, &user.ID,
		`INSERT INTO users (email, password_hash, first_name, last_name, verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Verified, user.CreatedAt, user.UpdatedAt)
	return wrapError(err)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by its normalized email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// VerifyUserAndResetPassword marks an unverified user verified and replaces
// the password hash in the same statement. Users that already are verified
// keep their hash.
func (r *Repository) VerifyUserAndResetPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified = 1, password_hash = ?, updated_at = ? WHERE id = ? AND verified = 0`,
		passwordHash, timestamp(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetUserByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
