package sessions

import (
	"context"
	"time"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, token string) (*models.Session, error)
	UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error
	Delete(ctx context.Context, token string) error
	// DeleteByEntity revokes every session for an entity: explicit lock,
	// passcode change, or a superseding unlock elsewhere.
	DeleteByEntity(ctx context.Context, entityID string) error
	// DeleteExpired prunes naturally expired rows. Storage hygiene only;
	// validation never relies on it having run.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
