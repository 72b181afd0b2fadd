package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/cryptox"
	"github.com/mkorchagin/praylock/internal/dbx"
	"github.com/mkorchagin/praylock/internal/logging"
	"github.com/mkorchagin/praylock/internal/server/models"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// MigrationResult reports the outcome of a completed migration. The
// recovery code is present only on the run that finishes the migration;
// it is the one time the code leaves the server in plaintext other than
// an explicit view request.
type MigrationResult struct {
	RecoveryCode string
}

// MigrationService moves an account from the legacy passcode-derived
// scheme to envelope encryption: a random DEK wrapped independently under
// the password and under a generated recovery code, with every content
// blob re-encrypted under a DEK sub-key.
//
// The engine is resumable. Key material is persisted in state "migrating"
// before any blob is touched, each blob flips schemes atomically via
// compare-and-swap, and the account is marked "upgraded" only when no
// legacy blob remains. A crash mid-way leaves a mixed store that any
// later run, with the same password, finishes.
type MigrationService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	passcodes *PasscodeService
	limiter   *RateLimitService
	logger    logging.Logger

	// group collapses concurrent migration requests for the same account
	// into one run; double-submits from the UI share its result.
	group singleflight.Group
}

func NewMigrationService(db *sql.DB, m repomanager.RepositoryManager, passcodes *PasscodeService, limiter *RateLimitService, logger logging.Logger) *MigrationService {
	return &MigrationService{
		db:        db,
		repos:     m,
		passcodes: passcodes,
		limiter:   limiter,
		logger:    logger.With("module", "migration"),
	}
}

// State reports the account's migration state; accounts with no key
// material at all are simply legacy.
func (s *MigrationService) State(ctx context.Context, accountID string) (string, error) {
	km, err := s.repos.KeyMaterial(s.db).Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.MigrationLegacy, nil
		}
		return "", err
	}
	return km.MigrationState, nil
}

// verifyPassword gates password-bearing migration operations with the same
// lockout discipline as unlock: the limiter is consulted before the slow
// hash, and failures here count on the same axis as failed unlocks.
func (s *MigrationService) verifyPassword(ctx context.Context, accountID string, password []byte) (*models.Credential, error) {
	status, err := s.limiter.Check(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if status.Limited {
		return nil, &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: status.LockoutEndsAt}
	}

	cred, err := s.passcodes.GetCredential(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidSecret
		}
		return nil, err
	}
	ok, err := s.passcodes.VerifySecret(password, cred)
	if err != nil {
		return nil, fmt.Errorf("verifying secret: %w", err)
	}
	if !ok {
		failure, ferr := s.limiter.RecordFailure(ctx, accountID)
		if ferr != nil {
			return nil, ferr
		}
		if failure.Locked {
			return nil, &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: failure.LockoutEndsAt}
		}
		return nil, &UnlockDenied{Reason: common.ErrInvalidSecret, RemainingAttempts: failure.RemainingAttempts}
	}
	if err := s.limiter.RecordSuccess(ctx, accountID); err != nil {
		return nil, err
	}
	return cred, nil
}

// Migrate upgrades accountID to envelope encryption. The password must be
// the account's current one: it proves the right to migrate and is the
// only way to decrypt the legacy blobs being converted.
//
// Safe to call again after a partial failure; the already-converted blobs
// are skipped and the same DEK and recovery code are reused.
func (s *MigrationService) Migrate(ctx context.Context, accountID string, password []byte) (*MigrationResult, error) {
	res, err, _ := s.group.Do(accountID, func() (any, error) {
		return s.migrate(ctx, accountID, password)
	})
	if err != nil {
		return nil, err
	}
	return res.(*MigrationResult), nil
}

func (s *MigrationService) migrate(ctx context.Context, accountID string, password []byte) (*MigrationResult, error) {
	cred, err := s.verifyPassword(ctx, accountID, password)
	if err != nil {
		return nil, err
	}

	dek, code, err := s.ensureKeyMaterial(ctx, accountID, password)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	converted, remaining, err := s.convertBlobs(ctx, accountID, cred, password, dek)
	if err != nil {
		return nil, err
	}

	if len(remaining) > 0 {
		s.logger.Warn(ctx, "migration left legacy items", "account_id", accountID, "remaining", len(remaining))
		return nil, fmt.Errorf("%d item(s) still on the old scheme: %w", len(remaining), common.ErrMigrationIncomplete)
	}

	if err := s.repos.KeyMaterial(s.db).AdvanceState(ctx, accountID, models.MigrationMigrating, models.MigrationUpgraded); err != nil {
		return nil, fmt.Errorf("finalizing migration: %w", err)
	}

	s.logger.Info(ctx, "account upgraded to envelope encryption", "account_id", accountID, "converted", converted)
	return &MigrationResult{RecoveryCode: code}, nil
}

// ensureKeyMaterial returns the account's DEK and recovery code, creating
// both on a fresh run and recovering both on a resumed one. Returns
// ErrAlreadyUpgraded once the account is past the point of migrating.
func (s *MigrationService) ensureKeyMaterial(ctx context.Context, accountID string, password []byte) ([]byte, string, error) {
	repo := s.repos.KeyMaterial(s.db)

	km, err := repo.Get(ctx, accountID)
	if errors.Is(err, common.ErrorNotFound) {
		dek, code, cerr := s.createKeyMaterial(ctx, accountID, password)
		if cerr == nil {
			return dek, code, nil
		}
		if !errors.Is(cerr, common.ErrVersionConflict) {
			return nil, "", cerr
		}
		// Another run inserted first; fall through to the resume path.
		km, err = repo.Get(ctx, accountID)
	}
	if err != nil {
		return nil, "", err
	}

	if km.MigrationState == models.MigrationUpgraded {
		return nil, "", common.ErrAlreadyUpgraded
	}

	dek, err := unwrapDEKWithPassword(km, password)
	if err != nil {
		return nil, "", err
	}
	code, err := openRecoveryCodeForDisplay(km, dek)
	if err != nil {
		common.WipeByteArray(dek)
		return nil, "", err
	}
	return dek, code, nil
}

func (s *MigrationService) createKeyMaterial(ctx context.Context, accountID string, password []byte) ([]byte, string, error) {
	dek := cryptox.NewDEK()
	code, err := cryptox.NewRecoveryCode()
	if err != nil {
		return nil, "", fmt.Errorf("generating recovery code: %w", err)
	}

	km, err := buildKeyMaterial(accountID, dek, code, password)
	if err != nil {
		return nil, "", err
	}
	km.MigrationState = models.MigrationMigrating

	if err := s.repos.KeyMaterial(s.db).Create(ctx, km); err != nil {
		common.WipeByteArray(dek)
		return nil, "", err
	}
	return dek, code, nil
}

// buildKeyMaterial produces both wraps of the DEK plus the sealed display
// copy of the recovery code, all under the current KDF parameters.
func buildKeyMaterial(accountID string, dek []byte, code string, password []byte) (*models.EnvelopeKeyMaterial, error) {
	wrappedPw, pwNonce, pwSalt, err := wrapDEK(dek, password, cryptox.CurrentKDFVersion)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	normalized := cryptox.NormalizeRecoveryCode(code)
	wrappedRec, recNonce, recSalt, err := wrapDEK(dek, []byte(normalized), cryptox.CurrentKDFVersion)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	display, displayNonce, err := sealRecoveryCodeForDisplay(dek, code)
	if err != nil {
		return nil, fmt.Errorf("sealing recovery code: %w", err)
	}

	return &models.EnvelopeKeyMaterial{
		AccountID:             accountID,
		WrappedDEKPassword:    wrappedPw,
		PasswordKDFSalt:       pwSalt,
		PasswordNonce:         pwNonce,
		WrappedDEKRecovery:    wrappedRec,
		RecoveryKDFSalt:       recSalt,
		RecoveryNonce:         recNonce,
		EncryptedRecoveryCode: display,
		RecoveryCodeNonce:     displayNonce,
		KDFVersion:            cryptox.CurrentKDFVersion,
	}, nil
}

// convertBlobs re-encrypts every legacy blob of the account under the
// DEK's content sub-key. Each row flips in its own compare-and-swap, so an
// interrupted run leaves only fully-converted or fully-legacy rows, never
// a torn one. Returns how many rows this run converted and the kinds still
// legacy afterwards.
func (s *MigrationService) convertBlobs(ctx context.Context, accountID string, cred *models.Credential, password, dek []byte) (int, []string, error) {
	blobRepo := s.repos.Blobs(s.db)

	legacy, err := blobRepo.ListByOwnerAndScheme(ctx, accountID, models.SchemeLegacy)
	if err != nil {
		return 0, nil, fmt.Errorf("listing legacy items: %w", err)
	}

	newKey, err := cryptox.DeriveSubKey(dek, contentContext)
	if err != nil {
		return 0, nil, err
	}
	defer common.WipeByteArray(newKey)

	// Legacy keys depend on the KDF version the blob was written with;
	// stretch once per version, not once per blob.
	oldKeys := map[int][]byte{}
	defer func() {
		for _, k := range oldKeys {
			common.WipeByteArray(k)
		}
	}()
	oldKeyFor := func(kdfVersion int) ([]byte, error) {
		if k, ok := oldKeys[kdfVersion]; ok {
			return k, nil
		}
		stretched, err := stretchSecret(password, cred.Salt, kdfVersion)
		if err != nil {
			return nil, err
		}
		defer common.WipeByteArray(stretched)
		k, err := legacyContentKey(stretched)
		if err != nil {
			return nil, err
		}
		oldKeys[kdfVersion] = k
		return k, nil
	}

	converted := 0
	for _, blob := range legacy {
		done, err := s.convertOne(ctx, blob, oldKeyFor, newKey)
		if err != nil {
			return converted, nil, fmt.Errorf("converting %s/%s: %w", accountID, blob.Kind, err)
		}
		if done {
			converted++
		}
	}

	still, err := blobRepo.ListByOwnerAndScheme(ctx, accountID, models.SchemeLegacy)
	if err != nil {
		return converted, nil, fmt.Errorf("listing legacy items: %w", err)
	}
	remaining := make([]string, 0, len(still))
	for _, b := range still {
		remaining = append(remaining, b.Kind)
	}
	return converted, remaining, nil
}

// convertOne flips a single blob to the envelope scheme. Transient store
// errors are retried with backoff; a version conflict re-reads the row and
// skips it when a concurrent writer already converted it.
func (s *MigrationService) convertOne(ctx context.Context, blob *models.ContentBlob, oldKeyFor func(int) ([]byte, error), newKey []byte) (bool, error) {
	blobRepo := s.repos.Blobs(s.db)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	converted := false

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		oldKey, err := oldKeyFor(blob.KDFVersion)
		if err != nil {
			return err
		}
		plaintext, err := cryptox.Open(&cryptox.Blob{Ciphertext: blob.Ciphertext, Nonce: blob.Nonce}, oldKey)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(plaintext)

		sealed, err := cryptox.Seal(plaintext, newKey)
		if err != nil {
			return err
		}

		next := *blob
		next.Ciphertext = sealed.Ciphertext
		next.Nonce = sealed.Nonce
		next.SchemeVersion = models.SchemeEnvelope
		next.KDFVersion = cryptox.CurrentKDFVersion

		switch err := blobRepo.CompareAndSwap(ctx, &next); {
		case err == nil:
			converted = true
			return nil
		case errors.Is(err, common.ErrVersionConflict):
			fresh, gerr := blobRepo.Get(ctx, blob.EntityID, blob.Kind)
			if gerr != nil {
				if errors.Is(gerr, common.ErrorNotFound) {
					// Deleted underneath us; nothing left to convert.
					return nil
				}
				return gerr
			}
			if fresh.SchemeVersion == models.SchemeEnvelope {
				return nil
			}
			*blob = *fresh
			return retry.RetryableError(err)
		case errors.Is(err, common.ErrAuthenticationFailed):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
	return converted, err
}

// RewrapPassword changes the password of an upgraded account. Only the
// password wrap of the DEK and the stored verifier change; not a single
// content blob is touched, which is the payoff of the envelope scheme.
func (s *MigrationService) RewrapPassword(ctx context.Context, accountID string, oldPassword, newPassword []byte) error {
	cred, err := s.verifyPassword(ctx, accountID, oldPassword)
	if err != nil {
		return err
	}

	km, err := s.repos.KeyMaterial(s.db).Get(ctx, accountID)
	if err != nil {
		return err
	}
	if km.MigrationState != models.MigrationUpgraded {
		return common.ErrMigrationIncomplete
	}

	dek, err := unwrapDEKWithPassword(km, oldPassword)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(dek)

	// Both wraps share km.KDFVersion, so the new wrap must use the same
	// parameters the recovery wrap was made with.
	wrapped, nonce, salt, err := wrapDEK(dek, newPassword, km.KDFVersion)
	if err != nil {
		return fmt.Errorf("wrapping data key: %w", err)
	}

	newHash, newSalt, newKDFVersion, err := s.passcodes.HashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		next := *km
		next.WrappedDEKPassword = wrapped
		next.PasswordKDFSalt = salt
		next.PasswordNonce = nonce
		if err := s.repos.KeyMaterial(tx).Update(ctx, &next); err != nil {
			return fmt.Errorf("updating key material: %w", err)
		}

		newCred := &models.Credential{
			EntityID:   accountID,
			Hash:       newHash,
			Salt:       newSalt,
			KDFVersion: newKDFVersion,
			Version:    cred.Version,
		}
		if cred.RecoveryCiphertext != nil {
			sealed, err := cryptox.SealWithMasterKey(newPassword, s.passcodes.masterKey)
			if err != nil {
				return fmt.Errorf("sealing recovery copy: %w", err)
			}
			newCred.RecoveryCiphertext = sealed
		}
		if err := s.repos.Credentials(tx).Replace(ctx, newCred); err != nil {
			return fmt.Errorf("replacing credential: %w", err)
		}

		if err := s.repos.Sessions(tx).DeleteByEntity(ctx, accountID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		return nil
	})
}

// ResetPasswordWithRecoveryCode sets a new password using the recovery
// code instead of the old password. This is what makes the code worth
// printing: a forgotten password does not orphan the data. Any account
// with key material qualifies, including one still migrating; its
// already-converted items stay reachable through the rewrapped data key.
func (s *MigrationService) ResetPasswordWithRecoveryCode(ctx context.Context, accountID, code string, newPassword []byte) error {
	status, err := s.limiter.Check(ctx, accountID)
	if err != nil {
		return err
	}
	if status.Limited {
		return &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: status.LockoutEndsAt}
	}

	km, err := s.repos.KeyMaterial(s.db).Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidSecret
		}
		return err
	}

	dek, err := unwrapDEKWithRecoveryCode(km, code)
	if err != nil {
		failure, ferr := s.limiter.RecordFailure(ctx, accountID)
		if ferr != nil {
			return ferr
		}
		if failure.Locked {
			return &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: failure.LockoutEndsAt}
		}
		return &UnlockDenied{Reason: common.ErrInvalidSecret, RemainingAttempts: failure.RemainingAttempts}
	}
	defer common.WipeByteArray(dek)
	if err := s.limiter.RecordSuccess(ctx, accountID); err != nil {
		return err
	}

	cred, err := s.passcodes.GetCredential(ctx, accountID)
	if err != nil {
		return err
	}

	wrapped, nonce, salt, err := wrapDEK(dek, newPassword, km.KDFVersion)
	if err != nil {
		return fmt.Errorf("wrapping data key: %w", err)
	}
	newHash, newSalt, newKDFVersion, err := s.passcodes.HashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}

	s.logger.Info(ctx, "password reset via recovery code", "account_id", accountID)

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		next := *km
		next.WrappedDEKPassword = wrapped
		next.PasswordKDFSalt = salt
		next.PasswordNonce = nonce
		if err := s.repos.KeyMaterial(tx).Update(ctx, &next); err != nil {
			return fmt.Errorf("updating key material: %w", err)
		}

		newCred := &models.Credential{
			EntityID:   accountID,
			Hash:       newHash,
			Salt:       newSalt,
			KDFVersion: newKDFVersion,
			Version:    cred.Version,
		}
		if cred.RecoveryCiphertext != nil {
			sealed, err := cryptox.SealWithMasterKey(newPassword, s.passcodes.masterKey)
			if err != nil {
				return fmt.Errorf("sealing recovery copy: %w", err)
			}
			newCred.RecoveryCiphertext = sealed
		}
		if err := s.repos.Credentials(tx).Replace(ctx, newCred); err != nil {
			return fmt.Errorf("replacing credential: %w", err)
		}
		if err := s.repos.Sessions(tx).DeleteByEntity(ctx, accountID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		return nil
	})
}

// ViewRecoveryCode re-displays the account's recovery code after a fresh
// password verification.
func (s *MigrationService) ViewRecoveryCode(ctx context.Context, accountID string, password []byte) (string, error) {
	if _, err := s.verifyPassword(ctx, accountID, password); err != nil {
		return "", err
	}

	km, err := s.repos.KeyMaterial(s.db).Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	dek, err := unwrapDEKWithPassword(km, password)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(dek)
	return openRecoveryCodeForDisplay(km, dek)
}

// RegenerateRecoveryCode invalidates the old recovery code and issues a
// new one. The DEK is unchanged, so content and the password wrap are
// untouched.
func (s *MigrationService) RegenerateRecoveryCode(ctx context.Context, accountID string, password []byte) (string, error) {
	if _, err := s.verifyPassword(ctx, accountID, password); err != nil {
		return "", err
	}

	km, err := s.repos.KeyMaterial(s.db).Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if km.MigrationState != models.MigrationUpgraded {
		return "", common.ErrMigrationIncomplete
	}

	dek, err := unwrapDEKWithPassword(km, password)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(dek)

	code, err := cryptox.NewRecoveryCode()
	if err != nil {
		return "", fmt.Errorf("generating recovery code: %w", err)
	}
	normalized := cryptox.NormalizeRecoveryCode(code)
	wrapped, nonce, salt, err := wrapDEK(dek, []byte(normalized), km.KDFVersion)
	if err != nil {
		return "", fmt.Errorf("wrapping data key: %w", err)
	}
	display, displayNonce, err := sealRecoveryCodeForDisplay(dek, code)
	if err != nil {
		return "", fmt.Errorf("sealing recovery code: %w", err)
	}

	next := *km
	next.WrappedDEKRecovery = wrapped
	next.RecoveryKDFSalt = salt
	next.RecoveryNonce = nonce
	next.EncryptedRecoveryCode = display
	next.RecoveryCodeNonce = displayNonce
	if err := s.repos.KeyMaterial(s.db).Update(ctx, &next); err != nil {
		return "", fmt.Errorf("updating key material: %w", err)
	}

	s.logger.Info(ctx, "recovery code regenerated", "account_id", accountID)
	return code, nil
}
