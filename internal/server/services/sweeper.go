package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mkorchagin/praylock/internal/logging"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// rateLimitStaleAfter is how long an untouched rate-limit row survives
// the sweep. Sub-threshold rows carry no lockout, so staleness is the
// only thing that ever prunes them. Generous on purpose: deleting a row
// forgives its failure count.
const rateLimitStaleAfter = 24 * time.Hour

// Sweeper periodically prunes rows that have already expired: dead
// sessions and rate-limit records whose lockout has passed or that have
// sat untouched past rateLimitStaleAfter. Validation and lockout checks
// never depend on the sweep; it exists so the tables do not grow without
// bound.
type Sweeper struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	clock    clockwork.Clock
	interval time.Duration
	logger   logging.Logger
}

func NewSweeper(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clock clockwork.Clock, logger logging.Logger) *Sweeper {
	return &Sweeper{
		db:       db,
		repos:    m,
		clock:    clock,
		interval: cfg.SweepInterval,
		logger:   logger.With("module", "sweeper"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Errors
// are logged and the loop continues; a failed sweep only delays cleanup.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single pruning pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()

	sessions, err := s.repos.Sessions(s.db).DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	limits, err := s.repos.RateLimits(s.db).DeleteExpired(ctx, now, now.Add(-rateLimitStaleAfter))
	if err != nil {
		return err
	}
	if sessions > 0 || limits > 0 {
		s.logger.Info(ctx, "swept expired rows", "sessions", sessions, "rate_limits", limits)
	}
	return nil
}
