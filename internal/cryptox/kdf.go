// Package cryptox implements the key derivation and authenticated
// encryption primitives the rest of the core is built on: versioned
// Argon2id derivation for human-chosen secrets, HKDF sub-key derivation
// for high-entropy keys, AES-GCM sealing for content, and
// XChaCha20-Poly1305 sealing under the operator master key.
package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of every symmetric key produced by this
// package (AES-256 / XChaCha20 key size).
const KeySize = 32

// SaltSize is the length of salts generated for Argon2id derivation.
const SaltSize = 16

// Argon2Params holds the cost factors for one Argon2id parameter version.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// kdfVersions maps a persisted kdf_version to its Argon2id cost factors.
// New versions are appended when costs are raised; existing versions must
// never change, or previously stored hashes and blobs stop verifying.
var kdfVersions = map[int]Argon2Params{
	1: {Time: 1, Memory: 64 * 1024, Threads: 4},
	2: {Time: 3, Memory: 64 * 1024, Threads: 4},
}

// CurrentKDFVersion is the parameter version used for all new derivations.
const CurrentKDFVersion = 2

// DeriveKey stretches a human-chosen secret into a 256-bit key using the
// Argon2id cost factors registered for version. The same secret, salt, and
// version always produce the same key.
func DeriveKey(secret, salt []byte, version int) ([]byte, error) {
	p, ok := kdfVersions[version]
	if !ok {
		return nil, fmt.Errorf("unknown kdf version %d", version)
	}
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, KeySize), nil
}

// DeriveSubKey derives a context-separated sub-key from an already
// high-entropy key using HKDF-SHA256. It must never be fed a human-chosen
// secret directly; use DeriveKey for those.
func DeriveSubKey(key []byte, context string) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(context))
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return sub, nil
}
