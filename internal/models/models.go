// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package models holds the records persisted in the credential store.
package models

// OTPPurpose tags what a one-time passcode confirms.
type OTPPurpose string

const (
	PurposeSignup OTPPurpose = "signup"
	PurposeResend OTPPurpose = "resend"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	return p == PurposeSignup || p == PurposeResend
}
