package ratelimits

import (
	"context"
	"sync"
	"time"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// MemoryRepository is an in-process Repository used by service tests. It
// mirrors the single-statement semantics of the Postgres implementation
// under one mutex.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.RateLimitRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.RateLimitRecord)}
}

func (r *MemoryRepository) Get(ctx context.Context, entityID string) (*models.RateLimitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[entityID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MemoryRepository) IncrementFailure(ctx context.Context, entityID string, threshold int, lockoutUntil, now time.Time) (*models.RateLimitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[entityID]
	expired := ok && rec.LockoutUntil != nil && !rec.LockoutUntil.After(now)
	if !ok || expired {
		rec = &models.RateLimitRecord{EntityID: entityID}
		r.rows[entityID] = rec
	}
	rec.FailureCount++
	rec.UpdatedAt = now
	if rec.FailureCount >= threshold && (rec.LockoutUntil == nil || expired) {
		until := lockoutUntil
		rec.LockoutUntil = &until
	}

	c := *rec
	return &c, nil
}

func (r *MemoryRepository) Clear(ctx context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, entityID)
	return nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now, staleBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.rows {
		expired := rec.LockoutUntil != nil && !rec.LockoutUntil.After(now)
		stale := !rec.UpdatedAt.After(staleBefore)
		if expired || stale {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
