// Package httpapi exposes the unlock, content, and migration operations
// over HTTP. Entity requests are authorized by the opaque session cookie;
// administrator requests by a signed bearer token. Handlers never echo
// secrets, passcodes, or key material back in any response or log line.
package httpapi

import (
	"github.com/mkorchagin/praylock/internal/logging"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/services"
)

// Handler carries the service layer and serves the HTTP surface.
type Handler struct {
	passcodes  *services.PasscodeService
	content    *services.ContentService
	unlock     *services.UnlockService
	sessions   *services.SessionService
	migrations *services.MigrationService
	cfg        *config.Config
	logger     logging.Logger
}

func NewHandler(
	passcodes *services.PasscodeService,
	content *services.ContentService,
	unlock *services.UnlockService,
	sessions *services.SessionService,
	migrations *services.MigrationService,
	cfg *config.Config,
	logger logging.Logger,
) *Handler {
	return &Handler{
		passcodes:  passcodes,
		content:    content,
		unlock:     unlock,
		sessions:   sessions,
		migrations: migrations,
		cfg:        cfg,
		logger:     logger.With("module", "httpapi"),
	}
}
