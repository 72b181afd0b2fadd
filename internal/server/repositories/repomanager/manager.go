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

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Credentials(db dbx.DBTX) credentials.Repository
	Blobs(db dbx.DBTX) blobs.Repository
	RateLimits(db dbx.DBTX) ratelimits.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	KeyMaterial(db dbx.DBTX) keymaterial.Repository
}
