package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/cryptox"
	"github.com/mkorchagin/praylock/internal/server/models"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// EmptyPrayerList is the explicit plaintext written for a brand-new
// entity. Readers always see a well-formed structure; absence is never a
// special case.
const EmptyPrayerList = `{"items":[]}`

// ContentService encrypts and decrypts the per-entity content blobs. The
// key used for any blob is decided by its persisted scheme_version tag,
// never by inspecting the ciphertext.
type ContentService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewContentService(db *sql.DB, m repomanager.RepositoryManager) *ContentService {
	return &ContentService{db: db, repos: m}
}

// contentKeyForScheme resolves the content-encryption key for one entity
// and scheme from the presented secret.
func (s *ContentService) contentKeyForScheme(ctx context.Context, entityID string, secret []byte, scheme, kdfVersion int) ([]byte, error) {
	switch scheme {
	case models.SchemeLegacy:
		cred, err := s.repos.Credentials(s.db).Get(ctx, entityID)
		if err != nil {
			return nil, err
		}
		stretched, err := stretchSecret(secret, cred.Salt, kdfVersion)
		if err != nil {
			return nil, err
		}
		defer common.WipeByteArray(stretched)
		return legacyContentKey(stretched)

	case models.SchemeEnvelope:
		km, err := s.repos.KeyMaterial(s.db).Get(ctx, entityID)
		if err != nil {
			return nil, err
		}
		dek, err := unwrapDEKWithPassword(km, secret)
		if err != nil {
			return nil, err
		}
		defer common.WipeByteArray(dek)
		return cryptox.DeriveSubKey(dek, contentContext)

	default:
		return nil, fmt.Errorf("unknown content scheme %d", scheme)
	}
}

// currentScheme reports which scheme new writes for the entity should use:
// envelope once the account is upgraded, legacy otherwise.
func (s *ContentService) currentScheme(ctx context.Context, entityID string) (int, error) {
	km, err := s.repos.KeyMaterial(s.db).Get(ctx, entityID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return models.SchemeLegacy, nil
		}
		return 0, err
	}
	if km.MigrationState == models.MigrationUpgraded {
		return models.SchemeEnvelope, nil
	}
	return models.SchemeLegacy, nil
}

// ReadContent decrypts one content blob with a key derived from the
// presented secret. Wrong secrets and corrupted rows are indistinguishable
// to the caller: both are ErrAuthenticationFailed.
func (s *ContentService) ReadContent(ctx context.Context, entityID, kind string, secret []byte) ([]byte, error) {
	blob, err := s.repos.Blobs(s.db).Get(ctx, entityID, kind)
	if err != nil {
		return nil, err
	}
	key, err := s.contentKeyForScheme(ctx, entityID, secret, blob.SchemeVersion, blob.KDFVersion)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)
	return cryptox.Open(&cryptox.Blob{Ciphertext: blob.Ciphertext, Nonce: blob.Nonce}, key)
}

// WriteContent encrypts plaintext and replaces the entity's blob of the
// given kind wholesale. The caller passes an explicit empty value (see
// EmptyPrayerList) when provisioning a new entity.
func (s *ContentService) WriteContent(ctx context.Context, entityID, kind string, plaintext, secret []byte) error {
	scheme, err := s.currentScheme(ctx, entityID)
	if err != nil {
		return err
	}

	kdfVersion := 0
	if scheme == models.SchemeLegacy {
		cred, err := s.repos.Credentials(s.db).Get(ctx, entityID)
		if err != nil {
			return err
		}
		kdfVersion = cred.KDFVersion
	}

	key, err := s.contentKeyForScheme(ctx, entityID, secret, scheme, kdfVersion)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	sealed, err := cryptox.Seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("sealing content: %w", err)
	}

	blob := &models.ContentBlob{
		EntityID:      entityID,
		Kind:          kind,
		Ciphertext:    sealed.Ciphertext,
		Nonce:         sealed.Nonce,
		KDFVersion:    kdfVersion,
		SchemeVersion: scheme,
	}
	if err := s.repos.Blobs(s.db).Save(ctx, blob); err != nil {
		return fmt.Errorf("saving content: %w", err)
	}
	return nil
}

// DeleteContent removes a blob outright. The ciphertext row is the only
// trace of the plaintext; deleting it leaves nothing recoverable.
func (s *ContentService) DeleteContent(ctx context.Context, entityID, kind string) error {
	return s.repos.Blobs(s.db).Delete(ctx, entityID, kind)
}
