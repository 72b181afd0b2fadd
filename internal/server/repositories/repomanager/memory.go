package repomanager

import (
	"context"
	"database/sql"

	"github.com/mkorchagin/praylock/internal/dbx"
	"github.com/mkorchagin/praylock/internal/server/repositories/blobs"
	"github.com/mkorchagin/praylock/internal/server/repositories/credentials"
	"github.com/mkorchagin/praylock/internal/server/repositories/keymaterial"
	"github.com/mkorchagin/praylock/internal/server/repositories/ratelimits"
	"github.com/mkorchagin/praylock/internal/server/repositories/sessions"
)

// MemoryRepositoryManager vends the in-process repositories. The DBTX
// argument is ignored: there is no real transaction, so service tests
// exercising multi-step flows see each step applied immediately.
type MemoryRepositoryManager struct {
	credentials *credentials.MemoryRepository
	blobs       *blobs.MemoryRepository
	rateLimits  *ratelimits.MemoryRepository
	sessions    *sessions.MemoryRepository
	keyMaterial *keymaterial.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		credentials: credentials.NewMemoryRepository(),
		blobs:       blobs.NewMemoryRepository(),
		rateLimits:  ratelimits.NewMemoryRepository(),
		sessions:    sessions.NewMemoryRepository(),
		keyMaterial: keymaterial.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Credentials(dbx.DBTX) credentials.Repository { return m.credentials }

func (m *MemoryRepositoryManager) Blobs(dbx.DBTX) blobs.Repository { return m.blobs }

func (m *MemoryRepositoryManager) RateLimits(dbx.DBTX) ratelimits.Repository { return m.rateLimits }

func (m *MemoryRepositoryManager) Sessions(dbx.DBTX) sessions.Repository { return m.sessions }

func (m *MemoryRepositoryManager) KeyMaterial(dbx.DBTX) keymaterial.Repository { return m.keyMaterial }
