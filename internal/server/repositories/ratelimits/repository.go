package ratelimits

import (
	"context"
	"time"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type Repository interface {
	// Get returns the record for entityID, or common.ErrorNotFound when no
	// failures have been recorded (an implicit Open state).
	Get(ctx context.Context, entityID string) (*models.RateLimitRecord, error)
	// IncrementFailure bumps the failure counter in a single atomic
	// statement and sets lockout_until when the counter reaches threshold.
	// A record whose lockout has already expired at now restarts from 1.
	// Concurrent callers cannot race past the threshold: the storage layer
	// serializes the read-modify-write.
	IncrementFailure(ctx context.Context, entityID string, threshold int, lockoutUntil, now time.Time) (*models.RateLimitRecord, error)
	// Clear removes the record entirely (back to implicit Open).
	Clear(ctx context.Context, entityID string) error
	// DeleteExpired prunes records whose lockout has passed, plus records
	// untouched since staleBefore: sub-threshold rows never get a lockout
	// and would otherwise live forever. Storage hygiene only; correctness
	// never depends on it.
	DeleteExpired(ctx context.Context, now, staleBefore time.Time) (int64, error)
}
