// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"
)

// CurrentEpoch returns the token epoch of userID, 0 when none was recorded.
func (r *Repository) CurrentEpoch(ctx context.Context, userID int64) (int64, error) {
	var epoch int64
	err := r.db.GetContext(ctx, &epoch, `SELECT epoch FROM token_epochs WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return epoch, err
}

// AdvanceEpoch increments the token epoch of userID and returns the new value
// in a single statement.
func (r *Repository) AdvanceEpoch(ctx context.Context, userID int64) (int64, error) {
	var epoch int64
	err := r.db.GetContext(ctx, &epoch,
		`INSERT INTO token_epochs (user_id, epoch) VALUES (?, 1)
		 ON CONFLICT (user_id) DO UPDATE SET epoch = token_epochs.epoch + 1
		 RETURNING epoch`,
		userID)
	return epoch, err
}
