// Package common defines shared constants and sentinel errors used across
// the praylock core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Unlock / verification errors.
	ErrInvalidSecret = errors.New("invalid secret")
	ErrLockedOut     = errors.New("locked out")

	// Envelope errors. Deliberately one value for wrong key, tampered
	// ciphertext, and corrupted data: callers must not be able to tell
	// these apart.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Session lifecycle errors.
	ErrSessionExpired = errors.New("session expired")
	ErrSessionUnknown = errors.New("session unknown")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Migration errors.
	ErrMigrationIncomplete = errors.New("migration incomplete")
	ErrAlreadyUpgraded     = errors.New("already upgraded")
)
