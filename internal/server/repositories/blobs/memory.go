package blobs

import (
	"context"
	"sort"
	"sync"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// MemoryRepository is an in-process Repository used by service tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[[2]string]*models.ContentBlob
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[[2]string]*models.ContentBlob)}
}

func key(entityID, kind string) [2]string { return [2]string{entityID, kind} }

func (r *MemoryRepository) Get(ctx context.Context, entityID, kind string) (*models.ContentBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[key(entityID, kind)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *b
	return &c, nil
}

func (r *MemoryRepository) Save(ctx context.Context, blob *models.ContentBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *blob
	if existing, ok := r.rows[key(blob.EntityID, blob.Kind)]; ok {
		c.Version = existing.Version + 1
	} else {
		c.Version = 1
	}
	r.rows[key(blob.EntityID, blob.Kind)] = &c
	return nil
}

func (r *MemoryRepository) CompareAndSwap(ctx context.Context, blob *models.ContentBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[key(blob.EntityID, blob.Kind)]
	if !ok || existing.Version != blob.Version {
		return common.ErrVersionConflict
	}
	c := *blob
	c.Version = existing.Version + 1
	r.rows[key(blob.EntityID, blob.Kind)] = &c
	return nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, entityID string) ([]*models.ContentBlob, error) {
	return r.listFiltered(entityID, func(b *models.ContentBlob) bool { return true })
}

func (r *MemoryRepository) ListByOwnerAndScheme(ctx context.Context, entityID string, scheme int) ([]*models.ContentBlob, error) {
	return r.listFiltered(entityID, func(b *models.ContentBlob) bool { return b.SchemeVersion == scheme })
}

func (r *MemoryRepository) listFiltered(entityID string, keep func(*models.ContentBlob) bool) ([]*models.ContentBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.ContentBlob
	for k, b := range r.rows {
		if k[0] != entityID || !keep(b) {
			continue
		}
		c := *b
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind < result[j].Kind })
	return result, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, entityID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key(entityID, kind))
	return nil
}
