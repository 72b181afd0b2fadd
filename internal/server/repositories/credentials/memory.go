package credentials

import (
	"context"
	"sync"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// MemoryRepository is an in-process Repository used by service tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Credential
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.Credential)}
}

func (r *MemoryRepository) Create(ctx context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[cred.EntityID]; ok {
		return common.ErrVersionConflict
	}
	c := *cred
	c.Version = 1
	r.rows[cred.EntityID] = &c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, entityID string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.rows[entityID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *cred
	return &c, nil
}

func (r *MemoryRepository) Replace(ctx context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[cred.EntityID]
	if !ok || existing.Version != cred.Version {
		return common.ErrVersionConflict
	}
	c := *cred
	c.Version = existing.Version + 1
	r.rows[cred.EntityID] = &c
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, entityID)
	return nil
}
