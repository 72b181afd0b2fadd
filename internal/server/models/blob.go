package models

import "time"

// Blob kinds persisted in content_blobs.kind.
const (
	BlobKindPrayerList  = "prayer_list"
	BlobKindDisplayName = "display_name"
)

// Content scheme versions. Read paths branch on this tag to pick the
// decryption key; nothing ever sniffs the ciphertext to guess.
const (
	// SchemeLegacy: blob encrypted under a key derived directly from the
	// entity's passcode/password.
	SchemeLegacy = 1
	// SchemeEnvelope: blob encrypted under the account DEK's content sub-key.
	SchemeEnvelope = 2
)

// ContentBlob is one encrypted content item owned by an entity.
type ContentBlob struct {
	EntityID string
	Kind     string
	// Ciphertext includes the GCM tag at its tail.
	Ciphertext []byte
	Nonce      []byte
	// KDFVersion applies only to SchemeLegacy blobs: which Argon2id
	// parameters derive the content key from the secret.
	KDFVersion    int
	SchemeVersion int
	// Version guards conditional replacement of the row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
