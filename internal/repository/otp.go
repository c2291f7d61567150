// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/internal/models"
)

// CreateOTP stores a new code record and fills in its ID.
func (r *Repository) CreateOTP(ctx context.Context, otp *models.OTP) error {
	otp.CreatedAt = timestamp(time.Now())

	err := r.db.GetContext(ctx, &otp.ID,
		`INSERT INTO otps (user_id, purpose, code_hash, expires_at, consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		otp.UserID, otp.Purpose, otp.CodeHash, otp.ExpiresAt.UTC(), otp.Consumed, otp.CreatedAt)
	return wrapError(err)
}

// LatestOTP returns the most recently created record for (userID, purpose).
// Records created in the same second are ordered by ID.
func (r *Repository) LatestOTP(ctx context.Context, userID int64, purpose models.OTPPurpose) (*models.OTP, error) {
	var otp models.OTP
	err := r.db.GetContext(ctx, &otp,
		`SELECT * FROM otps WHERE user_id = ? AND purpose = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, purpose)
	if err != nil {
		return nil, wrapError(err)
	}
	return &otp, nil
}

// ReplaceOTP overwrites the code and expiry of an unconsumed record in place
// and clears its failed attempts.
func (r *Repository) ReplaceOTP(ctx context.Context, id int64, codeHash string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otps SET code_hash = ?, expires_at = ?, failed_attempts = 0 WHERE id = ? AND consumed = 0`,
		codeHash, expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConsumed
	}
	return nil
}

// ExpireOTP moves the expiry of a record to at.
func (r *Repository) ExpireOTP(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE otps SET expires_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// RecordOTPFailure counts a wrong guess against a record and returns the new
// total.
func (r *Repository) RecordOTPFailure(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`UPDATE otps SET failed_attempts = failed_attempts + 1 WHERE id = ? RETURNING failed_attempts`, id)
	return n, wrapError(err)
}

// ConsumeOTPAndVerifyUser marks the record consumed and the user verified in
// one transaction. The consume only matches an unconsumed record that still
// carries codeHash. A concurrent or repeated call gets ErrConsumed and the
// user update is not applied twice; a record whose code was replaced in the
// meantime gets ErrStale.
func (r *Repository) ConsumeOTPAndVerifyUser(ctx context.Context, otpID int64, codeHash string, userID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE otps SET consumed = 1 WHERE id = ? AND consumed = 0 AND code_hash = ?`,
		otpID, codeHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var consumed bool
		if err := tx.GetContext(ctx, &consumed, `SELECT consumed FROM otps WHERE id = ?`, otpID); err != nil {
			return wrapError(err)
		}
		if consumed {
			return ErrConsumed
		}
		return ErrStale
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE users SET verified = 1, updated_at = ? WHERE id = ?`, timestamp(time.Now()), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
