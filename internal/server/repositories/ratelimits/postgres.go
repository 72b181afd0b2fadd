// Package ratelimits provides a PostgreSQL-backed repository for
// failed-unlock tracking. The increment is a single upsert statement so
// concurrent failures from one entity serialize at the row and can never
// race past the lockout threshold.
package ratelimits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/dbx"
	"github.com/mkorchagin/praylock/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, entityID string) (*models.RateLimitRecord, error) {
	query := `
		SELECT entity_id, failure_count, lockout_until
		FROM rate_limits
		WHERE entity_id = $1
	`
	rec := &models.RateLimitRecord{}
	err := r.db.QueryRowContext(ctx, query, entityID).Scan(&rec.EntityID, &rec.FailureCount, &rec.LockoutUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) IncrementFailure(ctx context.Context, entityID string, threshold int, lockoutUntil, now time.Time) (*models.RateLimitRecord, error) {
	query := `
		INSERT INTO rate_limits (entity_id, failure_count, lockout_until, updated_at)
		VALUES ($1, 1, CASE WHEN 1 >= $2 THEN $3 END, $4)
		ON CONFLICT (entity_id) DO UPDATE SET
			failure_count = CASE
				WHEN rate_limits.lockout_until IS NOT NULL AND rate_limits.lockout_until <= $4 THEN 1
				ELSE rate_limits.failure_count + 1
			END,
			lockout_until = CASE
				WHEN rate_limits.lockout_until IS NOT NULL AND rate_limits.lockout_until <= $4 THEN
					CASE WHEN 1 >= $2 THEN $3 END
				WHEN rate_limits.failure_count + 1 >= $2 THEN $3
				ELSE rate_limits.lockout_until
			END,
			updated_at = $4
		RETURNING failure_count, lockout_until
	`
	rec := &models.RateLimitRecord{EntityID: entityID}
	err := r.db.QueryRowContext(ctx, query, entityID, threshold, lockoutUntil, now).
		Scan(&rec.FailureCount, &rec.LockoutUntil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Clear(ctx context.Context, entityID string) error {
	query := `
		DELETE FROM rate_limits
		WHERE entity_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now, staleBefore time.Time) (int64, error) {
	query := `
		DELETE FROM rate_limits
		WHERE (lockout_until IS NOT NULL AND lockout_until <= $1)
			OR updated_at <= $2
	`
	res, err := r.db.ExecContext(ctx, query, now, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
