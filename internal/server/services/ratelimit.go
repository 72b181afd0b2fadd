package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// LimitStatus is the result of a pure lockout read.
type LimitStatus struct {
	Limited       bool
	LockoutEndsAt *time.Time
}

// FailureResult reports the outcome of recording one failed attempt.
type FailureResult struct {
	Locked            bool
	RemainingAttempts int
	LockoutEndsAt     *time.Time
}

// RateLimitService enforces the per-entity lockout state machine:
// Open -> (failure x N) -> Locked(until) -> (until elapses) -> Open.
// It must run before any slow-hash verification so a locked entity costs
// one cheap read, not an Argon2id pass.
type RateLimitService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	clock     clockwork.Clock
	threshold int
	window    time.Duration
}

func NewRateLimitService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clock clockwork.Clock) *RateLimitService {
	return &RateLimitService{
		db:        db,
		repos:     m,
		clock:     clock,
		threshold: cfg.LockoutThreshold,
		window:    cfg.LockoutWindow,
	}
}

// Check reports whether the entity is currently locked out. Lazy
// self-healing: a lockout whose end has passed reads as Open without any
// write.
func (s *RateLimitService) Check(ctx context.Context, entityID string) (*LimitStatus, error) {
	rec, err := s.repos.RateLimits(s.db).Get(ctx, entityID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &LimitStatus{}, nil
		}
		return nil, fmt.Errorf("reading rate limit: %w", err)
	}
	if rec.LockoutUntil != nil && rec.LockoutUntil.After(s.clock.Now()) {
		return &LimitStatus{Limited: true, LockoutEndsAt: rec.LockoutUntil}, nil
	}
	return &LimitStatus{}, nil
}

// RecordFailure bumps the failure counter atomically and reports whether
// the entity just crossed the threshold.
func (s *RateLimitService) RecordFailure(ctx context.Context, entityID string) (*FailureResult, error) {
	now := s.clock.Now()
	rec, err := s.repos.RateLimits(s.db).IncrementFailure(ctx, entityID, s.threshold, now.Add(s.window), now)
	if err != nil {
		return nil, fmt.Errorf("recording failure: %w", err)
	}
	if rec.LockoutUntil != nil && rec.LockoutUntil.After(now) {
		return &FailureResult{Locked: true, LockoutEndsAt: rec.LockoutUntil}, nil
	}
	remaining := s.threshold - rec.FailureCount
	if remaining < 0 {
		remaining = 0
	}
	return &FailureResult{RemainingAttempts: remaining}, nil
}

// RecordSuccess clears the record entirely; the entity is back to the
// implicit Open state. Only a verified-successful unlock may call this.
func (s *RateLimitService) RecordSuccess(ctx context.Context, entityID string) error {
	if err := s.repos.RateLimits(s.db).Clear(ctx, entityID); err != nil {
		return fmt.Errorf("clearing rate limit: %w", err)
	}
	return nil
}
