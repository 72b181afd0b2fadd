package keymaterial

import (
	"context"
	"sync"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// MemoryRepository is an in-process Repository used by service tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.EnvelopeKeyMaterial
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.EnvelopeKeyMaterial)}
}

func (r *MemoryRepository) Get(ctx context.Context, accountID string) (*models.EnvelopeKeyMaterial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.rows[accountID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *km
	return &c, nil
}

func (r *MemoryRepository) Create(ctx context.Context, km *models.EnvelopeKeyMaterial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[km.AccountID]; ok {
		return common.ErrVersionConflict
	}
	c := *km
	c.Version = 1
	r.rows[km.AccountID] = &c
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, km *models.EnvelopeKeyMaterial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[km.AccountID]
	if !ok || existing.Version != km.Version {
		return common.ErrVersionConflict
	}
	c := *km
	c.MigrationState = existing.MigrationState
	c.Version = existing.Version + 1
	r.rows[km.AccountID] = &c
	return nil
}

func (r *MemoryRepository) AdvanceState(ctx context.Context, accountID, fromState, toState string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[accountID]
	if !ok || existing.MigrationState != fromState {
		return common.ErrVersionConflict
	}
	existing.MigrationState = toState
	existing.Version++
	return nil
}
