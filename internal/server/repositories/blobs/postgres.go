// Package blobs provides a PostgreSQL-backed repository for encrypted
// content items (prayer lists, display names).
package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const blobColumns = `entity_id, kind, ciphertext, nonce, kdf_version, scheme_version, version`

func scanBlob(row interface{ Scan(...any) error }) (*models.ContentBlob, error) {
	b := &models.ContentBlob{}
	err := row.Scan(&b.EntityID, &b.Kind, &b.Ciphertext, &b.Nonce, &b.KDFVersion, &b.SchemeVersion, &b.Version)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PostgresRepository) Get(ctx context.Context, entityID, kind string) (*models.ContentBlob, error) {
	query := `
		SELECT ` + blobColumns + `
		FROM content_blobs
		WHERE entity_id = $1 AND kind = $2
	`
	b, err := scanBlob(r.db.QueryRowContext(ctx, query, entityID, kind))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Save(ctx context.Context, blob *models.ContentBlob) error {
	query := `
		INSERT INTO content_blobs (entity_id, kind, ciphertext, nonce, kdf_version, scheme_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, kind) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			nonce = EXCLUDED.nonce,
			kdf_version = EXCLUDED.kdf_version,
			scheme_version = EXCLUDED.scheme_version,
			version = content_blobs.version + 1,
			updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query,
		blob.EntityID, blob.Kind, blob.Ciphertext, blob.Nonce, blob.KDFVersion, blob.SchemeVersion); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, blob *models.ContentBlob) error {
	query := `
		UPDATE content_blobs
		SET ciphertext = $1, nonce = $2, kdf_version = $3, scheme_version = $4,
		    version = version + 1, updated_at = now()
		WHERE entity_id = $5 AND kind = $6 AND version = $7
	`
	res, err := r.db.ExecContext(ctx, query,
		blob.Ciphertext, blob.Nonce, blob.KDFVersion, blob.SchemeVersion,
		blob.EntityID, blob.Kind, blob.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, entityID string) ([]*models.ContentBlob, error) {
	query := `
		SELECT ` + blobColumns + `
		FROM content_blobs
		WHERE entity_id = $1
		ORDER BY kind
	`
	return r.list(ctx, query, entityID)
}

func (r *PostgresRepository) ListByOwnerAndScheme(ctx context.Context, entityID string, scheme int) ([]*models.ContentBlob, error) {
	query := `
		SELECT ` + blobColumns + `
		FROM content_blobs
		WHERE entity_id = $1 AND scheme_version = $2
		ORDER BY kind
	`
	return r.list(ctx, query, entityID, scheme)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.ContentBlob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ContentBlob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, entityID, kind string) error {
	query := `
		DELETE FROM content_blobs
		WHERE entity_id = $1 AND kind = $2
	`
	if _, err := r.db.ExecContext(ctx, query, entityID, kind); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
