package blobs

import (
	"context"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, entityID, kind string) (*models.ContentBlob, error)
	// Save upserts a blob row; on update the version increments.
	Save(ctx context.Context, blob *models.ContentBlob) error
	// CompareAndSwap replaces a blob row only if its version still equals
	// blob.Version; otherwise ErrVersionConflict. Rekey and migration use
	// this so a concurrent writer can never be silently overwritten.
	CompareAndSwap(ctx context.Context, blob *models.ContentBlob) error
	ListByOwner(ctx context.Context, entityID string) ([]*models.ContentBlob, error)
	// ListByOwnerAndScheme filters by scheme_version tag; the migration
	// engine uses it to find items still on the legacy scheme.
	ListByOwnerAndScheme(ctx context.Context, entityID string, scheme int) ([]*models.ContentBlob, error)
	Delete(ctx context.Context, entityID, kind string) error
}
