// Package services contains the server-side business logic of the
// credential-gated encryption core: passcode credentials, content
// envelopes, rate limiting, sessions, unlock orchestration, and the
// envelope-encryption migration engine.
package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/cryptox"
	"github.com/mkorchagin/praylock/internal/dbx"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/models"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// contentContext is the HKDF context separating the content-encryption
// sub-key from the verifier. The stored hash is a digest of the stretched
// key, never the content key itself, so a leaked credentials table cannot
// decrypt anything.
const contentContext = "praylock/content/v1"

// PasscodeService manages SecretCredential rows: hashing and verifying
// passcodes and passwords, break-glass recovery copies, and atomic
// passcode changes that re-key dependent content.
type PasscodeService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	masterKey []byte
}

// NewPasscodeService constructs a PasscodeService using repositories and
// server config. The config must have been validated: a missing master key
// is a startup error, not something to discover here.
func NewPasscodeService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *PasscodeService {
	return &PasscodeService{db: db, repos: m, masterKey: cfg.MasterKey()}
}

// stretchSecret runs the slow KDF once and returns the stretched key. Both
// the stored verifier and the legacy content key are derived from it, via
// one-way steps, so neither is recoverable from the other.
func stretchSecret(secret, salt []byte, kdfVersion int) ([]byte, error) {
	return cryptox.DeriveKey(secret, salt, kdfVersion)
}

// makeVerifier hashes the stretched key down to the value stored at rest.
func makeVerifier(stretched []byte) []byte {
	h := sha256.Sum256(stretched)
	return h[:]
}

// legacyContentKey derives the key that encrypts SchemeLegacy blobs from
// the stretched secret.
func legacyContentKey(stretched []byte) ([]byte, error) {
	return cryptox.DeriveSubKey(stretched, contentContext)
}

// HashSecret produces a fresh salted verifier for a secret under the
// current KDF parameters.
func (s *PasscodeService) HashSecret(secret []byte) (hash, salt []byte, kdfVersion int, err error) {
	salt = cryptox.NewSalt()
	stretched, err := stretchSecret(secret, salt, cryptox.CurrentKDFVersion)
	if err != nil {
		return nil, nil, 0, err
	}
	defer common.WipeByteArray(stretched)
	return makeVerifier(stretched), salt, cryptox.CurrentKDFVersion, nil
}

// VerifySecret recomputes the verifier for candidate under the
// credential's salt and KDF version and compares in constant time. The
// comparison cost does not depend on where the values first differ.
func (s *PasscodeService) VerifySecret(candidate []byte, cred *models.Credential) (bool, error) {
	stretched, err := stretchSecret(candidate, cred.Salt, cred.KDFVersion)
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(stretched)
	return subtle.ConstantTimeCompare(makeVerifier(stretched), cred.Hash) == 1, nil
}

// CreateCredential provisions the gate for a new entity. When withRecovery
// is set, a copy of the secret is sealed under the operator master key so
// an administrator can recover it later. That copy is a deliberate trust
// boundary: anyone holding the master key can recover the passcode.
func (s *PasscodeService) CreateCredential(ctx context.Context, entityID string, secret []byte, withRecovery bool) error {
	hash, salt, kdfVersion, err := s.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}

	cred := &models.Credential{
		EntityID:   entityID,
		Hash:       hash,
		Salt:       salt,
		KDFVersion: kdfVersion,
	}
	if withRecovery {
		sealed, err := cryptox.SealWithMasterKey(secret, s.masterKey)
		if err != nil {
			return fmt.Errorf("sealing recovery copy: %w", err)
		}
		cred.RecoveryCiphertext = sealed
	}

	if err := s.repos.Credentials(s.db).Create(ctx, cred); err != nil {
		return fmt.Errorf("creating credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential for an entity.
func (s *PasscodeService) GetCredential(ctx context.Context, entityID string) (*models.Credential, error) {
	return s.repos.Credentials(s.db).Get(ctx, entityID)
}

// RecoverSecret decrypts the break-glass copy of an entity's secret under
// the operator master key. Callers must have passed the administrator
// gate; this method does no authorization of its own.
func (s *PasscodeService) RecoverSecret(ctx context.Context, entityID string) ([]byte, error) {
	cred, err := s.repos.Credentials(s.db).Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if cred.RecoveryCiphertext == nil {
		return nil, common.ErrorNotFound
	}
	secret, err := cryptox.OpenWithMasterKey(cred.RecoveryCiphertext, s.masterKey)
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// UpdatePasscode replaces the credential and re-keys every legacy content
// blob from the old secret to the new one in a single transaction. If the
// old secret fails to decrypt any blob, nothing is written and every blob
// stays under the old key.
//
// An account with envelope key material also gets its data key rewrapped
// under the new secret, so a password change in the middle of a migration
// keeps the wrapped key openable with the only password the credential
// now accepts.
func (s *PasscodeService) UpdatePasscode(ctx context.Context, entityID string, oldSecret, newSecret []byte) error {
	cred, err := s.repos.Credentials(s.db).Get(ctx, entityID)
	if err != nil {
		return err
	}
	ok, err := s.VerifySecret(oldSecret, cred)
	if err != nil {
		return fmt.Errorf("verifying secret: %w", err)
	}
	if !ok {
		return common.ErrInvalidSecret
	}

	oldStretched, err := stretchSecret(oldSecret, cred.Salt, cred.KDFVersion)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldStretched)
	oldKey, err := legacyContentKey(oldStretched)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldKey)

	newHash, newSalt, newKDFVersion, err := s.HashSecret(newSecret)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}
	newStretched, err := stretchSecret(newSecret, newSalt, newKDFVersion)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(newStretched)
	newKey, err := legacyContentKey(newStretched)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(newKey)

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		blobRepo := s.repos.Blobs(tx)
		legacy, err := blobRepo.ListByOwnerAndScheme(ctx, entityID, models.SchemeLegacy)
		if err != nil {
			return fmt.Errorf("listing blobs: %w", err)
		}

		// Decrypt everything before writing anything: a bad blob aborts
		// the whole transaction with the store untouched.
		plaintexts := make([][]byte, len(legacy))
		for i, blob := range legacy {
			p, err := cryptox.Open(&cryptox.Blob{Ciphertext: blob.Ciphertext, Nonce: blob.Nonce}, oldKey)
			if err != nil {
				return fmt.Errorf("rekey %s/%s: %w", entityID, blob.Kind, err)
			}
			plaintexts[i] = p
		}

		for i, blob := range legacy {
			sealed, err := cryptox.Seal(plaintexts[i], newKey)
			common.WipeByteArray(plaintexts[i])
			if err != nil {
				return fmt.Errorf("rekey %s/%s: %w", entityID, blob.Kind, err)
			}
			blob.Ciphertext = sealed.Ciphertext
			blob.Nonce = sealed.Nonce
			blob.KDFVersion = newKDFVersion
			if err := blobRepo.CompareAndSwap(ctx, blob); err != nil {
				return fmt.Errorf("rekey %s/%s: %w", entityID, blob.Kind, err)
			}
		}

		km, err := s.repos.KeyMaterial(tx).Get(ctx, entityID)
		switch {
		case err == nil:
			dek, err := unwrapDEKWithPassword(km, oldSecret)
			if err != nil {
				return fmt.Errorf("unwrapping data key: %w", err)
			}
			// Both wraps share km.KDFVersion, so the new wrap must use
			// the same parameters the recovery wrap was made with.
			wrapped, nonce, wrapSalt, werr := wrapDEK(dek, newSecret, km.KDFVersion)
			common.WipeByteArray(dek)
			if werr != nil {
				return fmt.Errorf("wrapping data key: %w", werr)
			}
			next := *km
			next.WrappedDEKPassword = wrapped
			next.PasswordKDFSalt = wrapSalt
			next.PasswordNonce = nonce
			if err := s.repos.KeyMaterial(tx).Update(ctx, &next); err != nil {
				return fmt.Errorf("updating key material: %w", err)
			}
		case errors.Is(err, common.ErrorNotFound):
			// Purely legacy account; nothing is wrapped under the secret.
		default:
			return fmt.Errorf("reading key material: %w", err)
		}

		newCred := &models.Credential{
			EntityID:   entityID,
			Hash:       newHash,
			Salt:       newSalt,
			KDFVersion: newKDFVersion,
			Version:    cred.Version,
		}
		if cred.RecoveryCiphertext != nil {
			sealed, err := cryptox.SealWithMasterKey(newSecret, s.masterKey)
			if err != nil {
				return fmt.Errorf("sealing recovery copy: %w", err)
			}
			newCred.RecoveryCiphertext = sealed
		}
		if err := s.repos.Credentials(tx).Replace(ctx, newCred); err != nil {
			return fmt.Errorf("replacing credential: %w", err)
		}

		// Any session proves knowledge of the old secret; all of them are
		// stale now.
		if err := s.repos.Sessions(tx).DeleteByEntity(ctx, entityID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		return nil
	})
}
