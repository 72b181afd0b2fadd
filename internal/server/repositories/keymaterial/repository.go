package keymaterial

import (
	"context"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, accountID string) (*models.EnvelopeKeyMaterial, error)
	// Create inserts the account's key material exactly once; a second
	// insert fails with ErrVersionConflict so concurrent migration starts
	// can detect each other.
	Create(ctx context.Context, km *models.EnvelopeKeyMaterial) error
	// Update replaces wrap fields conditionally on km.Version (password
	// rewrap, recovery code regeneration).
	Update(ctx context.Context, km *models.EnvelopeKeyMaterial) error
	// AdvanceState moves migration_state forward in a single conditional
	// statement. The WHERE clause on the current state is what makes the
	// transition one-directional and idempotent under concurrent retries.
	AdvanceState(ctx context.Context, accountID, fromState, toState string) error
}
