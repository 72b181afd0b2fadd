package credentials

import (
	"context"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, cred *models.Credential) error
	Get(ctx context.Context, entityID string) (*models.Credential, error)
	// Replace swaps the whole credential row conditionally on cred.Version.
	// Credentials are never mutated field-by-field; a secret change writes
	// a complete new record or fails with ErrVersionConflict.
	Replace(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, entityID string) error
}
