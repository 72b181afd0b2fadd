package models

import "time"

// Migration states for an account's encryption scheme. Transitions are
// forward-only: legacy -> migrating -> upgraded.
const (
	MigrationLegacy    = "legacy"
	MigrationMigrating = "migrating"
	MigrationUpgraded  = "upgraded"
)

// EnvelopeKeyMaterial holds the DEK-based scheme's key records for one
// account. The DEK itself is never stored; only the two independent wraps.
type EnvelopeKeyMaterial struct {
	AccountID string

	// Password path: DEK wrapped under Argon2id(password, PasswordKDFSalt).
	WrappedDEKPassword []byte
	PasswordKDFSalt    []byte
	PasswordNonce      []byte

	// Recovery path: DEK wrapped under Argon2id(recoveryCode, RecoveryKDFSalt).
	WrappedDEKRecovery []byte
	RecoveryKDFSalt    []byte
	RecoveryNonce      []byte

	// EncryptedRecoveryCode is the display copy of the recovery code,
	// sealed under an HKDF sub-key of the DEK. It lets the code be viewed
	// again, never regenerated.
	EncryptedRecoveryCode []byte
	RecoveryCodeNonce     []byte

	// KDFVersion records the Argon2id parameter version for both wraps.
	KDFVersion     int
	MigrationState string
	// Version guards conditional state transitions and rewraps.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
