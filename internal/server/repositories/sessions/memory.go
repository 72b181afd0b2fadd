package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// MemoryRepository is an in-process Repository used by service tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.rows[s.Token] = &c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[token]
	if !ok {
		return common.ErrorNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, token)
	return nil
}

func (r *MemoryRepository) DeleteByEntity(ctx context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, s := range r.rows {
		if s.EntityID == entityID {
			delete(r.rows, token)
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.rows {
		if !s.ExpiresAt.After(now) {
			delete(r.rows, token)
			n++
		}
	}
	return n, nil
}
