// Package keymaterial provides a PostgreSQL-backed repository for the
// envelope-encryption key records (wrapped DEKs, salts, recovery copies).
package keymaterial

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

func (r *PostgresRepository) Get(ctx context.Context, accountID string) (*models.EnvelopeKeyMaterial, error) {
	query := `
		SELECT account_id, wrapped_dek_password, password_kdf_salt, password_nonce,
		       wrapped_dek_recovery, recovery_kdf_salt, recovery_nonce,
		       encrypted_recovery_code, recovery_code_nonce,
		       kdf_version, migration_state, version
		FROM envelope_keys
		WHERE account_id = $1
	`
	km := &models.EnvelopeKeyMaterial{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&km.AccountID, &km.WrappedDEKPassword, &km.PasswordKDFSalt, &km.PasswordNonce,
		&km.WrappedDEKRecovery, &km.RecoveryKDFSalt, &km.RecoveryNonce,
		&km.EncryptedRecoveryCode, &km.RecoveryCodeNonce,
		&km.KDFVersion, &km.MigrationState, &km.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return km, nil
}

func (r *PostgresRepository) Create(ctx context.Context, km *models.EnvelopeKeyMaterial) error {
	query := `
		INSERT INTO envelope_keys (
			account_id, wrapped_dek_password, password_kdf_salt, password_nonce,
			wrapped_dek_recovery, recovery_kdf_salt, recovery_nonce,
			encrypted_recovery_code, recovery_code_nonce,
			kdf_version, migration_state
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		km.AccountID, km.WrappedDEKPassword, km.PasswordKDFSalt, km.PasswordNonce,
		km.WrappedDEKRecovery, km.RecoveryKDFSalt, km.RecoveryNonce,
		km.EncryptedRecoveryCode, km.RecoveryCodeNonce,
		km.KDFVersion, km.MigrationState)
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

func (r *PostgresRepository) Update(ctx context.Context, km *models.EnvelopeKeyMaterial) error {
	query := `
		UPDATE envelope_keys
		SET wrapped_dek_password = $1, password_kdf_salt = $2, password_nonce = $3,
		    wrapped_dek_recovery = $4, recovery_kdf_salt = $5, recovery_nonce = $6,
		    encrypted_recovery_code = $7, recovery_code_nonce = $8,
		    kdf_version = $9, version = version + 1, updated_at = now()
		WHERE account_id = $10 AND version = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		km.WrappedDEKPassword, km.PasswordKDFSalt, km.PasswordNonce,
		km.WrappedDEKRecovery, km.RecoveryKDFSalt, km.RecoveryNonce,
		km.EncryptedRecoveryCode, km.RecoveryCodeNonce,
		km.KDFVersion, km.AccountID, km.Version)
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

func (r *PostgresRepository) AdvanceState(ctx context.Context, accountID, fromState, toState string) error {
	query := `
		UPDATE envelope_keys
		SET migration_state = $1, version = version + 1, updated_at = now()
		WHERE account_id = $2 AND migration_state = $3
	`
	res, err := r.db.ExecContext(ctx, query, toState, accountID, fromState)
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
