// Package credentials provides a PostgreSQL-backed repository for the
// per-entity secret credentials (passcode and password gates).
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/dbx"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (entity_id, hash, salt, kdf_version, recovery_ciphertext)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query,
		cred.EntityID, cred.Hash, cred.Salt, cred.KDFVersion, cred.RecoveryCiphertext); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, entityID string) (*models.Credential, error) {
	query := `
		SELECT entity_id, hash, salt, kdf_version, recovery_ciphertext, version
		FROM credentials
		WHERE entity_id = $1
	`
	cred := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, entityID).Scan(
		&cred.EntityID, &cred.Hash, &cred.Salt, &cred.KDFVersion, &cred.RecoveryCiphertext, &cred.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cred, nil
}

// Replace performs a single-row conditional update guarded by the version
// read earlier. Zero affected rows means a concurrent writer got there
// first and the caller must re-read.
func (r *PostgresRepository) Replace(ctx context.Context, cred *models.Credential) error {
	query := `
		UPDATE credentials
		SET hash = $1, salt = $2, kdf_version = $3, recovery_ciphertext = $4,
		    version = version + 1, updated_at = now()
		WHERE entity_id = $5 AND version = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		cred.Hash, cred.Salt, cred.KDFVersion, cred.RecoveryCiphertext, cred.EntityID, cred.Version)
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

func (r *PostgresRepository) Delete(ctx context.Context, entityID string) error {
	query := `
		DELETE FROM credentials
		WHERE entity_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
