package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/mkorchagin/praylock/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Blob is the wire/storage form of one authenticated ciphertext. The GCM
// tag sits at the tail of Ciphertext, which is how aesgcm.Seal emits it.
type Blob struct {
	Ciphertext []byte
	Nonce      []byte
}

// Seal encrypts plaintext under key using AES-256-GCM. A fresh random
// 12-byte nonce is generated inside this function on every call; callers
// cannot supply one, which is what makes nonce reuse under a key
// structurally impossible.
//
// The key must be 32 bytes (see DeriveKey / NewDEK).
func Seal(plaintext, key []byte) (*Blob, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &Blob{
		Ciphertext: aesgcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Open decrypts a Blob produced by Seal. Any failure — wrong key, flipped
// bit in the ciphertext, nonce, or tag — comes back as the single opaque
// common.ErrAuthenticationFailed. No partial plaintext is ever returned.
func Open(blob *Blob, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	if len(blob.Nonce) != aesgcm.NonceSize() {
		return nil, common.ErrAuthenticationFailed
	}

	plaintext, err := aesgcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// NewDEK returns a fresh random 256-bit data-encryption key. DEKs are never
// derived from a human secret; they are only ever wrapped by keys that are.
func NewDEK() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// SealWithMasterKey encrypts plaintext under the operator master key using
// XChaCha20-Poly1305 and returns nonce || ciphertext as a single value,
// which is how the break-glass recovery copies are stored at rest.
func SealWithMasterKey(plaintext, masterKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// OpenWithMasterKey decrypts a value produced by SealWithMasterKey.
func OpenWithMasterKey(data, masterKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	if len(data) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, common.ErrAuthenticationFailed
	}

	nonce := data[:chacha20poly1305.NonceSizeX]
	ciphertext := data[chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// NewSalt returns a fresh random Argon2id salt.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}
