// Package models defines server-side data models persisted in the database.
package models

import "time"

// Credential is the verifiable-but-not-recoverable secret bound to an
// entity: a person/profile passcode gate or an account password.
type Credential struct {
	// EntityID is the owner; one credential row per entity.
	EntityID string
	// Hash is the Argon2id hash of the secret under Salt.
	Hash []byte
	// Salt is the per-credential random KDF salt.
	Salt []byte
	// KDFVersion records which Argon2id cost parameters produced Hash,
	// so cost bumps never orphan existing credentials.
	KDFVersion int
	// RecoveryCiphertext, when non-nil, is the secret encrypted under the
	// operator master key for the break-glass recovery flow. Present only
	// for entities where that feature is enabled.
	RecoveryCiphertext []byte
	// Version guards conditional replacement of the row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
