package services

import (
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mkorchagin/praylock/internal/logging"
	"github.com/mkorchagin/praylock/internal/server/config"
)

// newTestDB returns a throwaway database whose only job is to hand out
// real transactions to dbx.WithTx. The repositories under test are the
// in-memory ones, so no statement ever reaches this connection.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MasterKeyHex = strings.Repeat("ab", 32)
	cfg.AdminJWTSecret = "test-admin-secret"
	return cfg
}

func newTestLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
