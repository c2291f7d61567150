// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTP is a stored one-time passcode. Only the bcrypt hash of the code is kept.
type OTP struct { //nolint:govet // fieldalignment: readability over optimization
	ID             int64      `db:"id" json:"id"`
	UserID         int64      `db:"user_id" json:"userId"`
	Purpose        OTPPurpose `db:"purpose" json:"purpose"`
	CodeHash       string     `db:"code_hash" json:"-"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expiresAt"`
	Consumed       bool       `db:"consumed" json:"consumed"`
	FailedAttempts int        `db:"failed_attempts" json:"failedAttempts"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// Expired reports whether the code can no longer be used at now.
func (o *OTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Live reports whether the code is unconsumed and unexpired at now.
func (o *OTP) Live(now time.Time) bool {
	return !o.Consumed && !o.Expired(now)
}

// Remaining is the time left before expiry, never negative.
func (o *OTP) Remaining(now time.Time) time.Duration {
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
