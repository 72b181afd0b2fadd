package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/config"
	"github.com/mkorchagin/praylock/internal/server/models"
	"github.com/mkorchagin/praylock/internal/server/repositories/repomanager"
)

// sessionTokenBytes is the entropy of a session token before hex encoding.
const sessionTokenBytes = 32

// SessionService issues and validates the opaque tokens that prove a
// successful unlock. A token carries no decodable claims; validity is
// decided entirely by the server-side row.
type SessionService struct {
	db          *sql.DB
	repos       repomanager.RepositoryManager
	clock       clockwork.Clock
	window      time.Duration
	maxLifetime time.Duration
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clock clockwork.Clock) *SessionService {
	return &SessionService{
		db:          db,
		repos:       m,
		clock:       clock,
		window:      cfg.SessionWindow,
		maxLifetime: cfg.SessionMaxLifetime,
	}
}

// Issue creates a session for an entity and returns its token.
func (s *SessionService) Issue(ctx context.Context, entityID string) (string, error) {
	token, err := common.MakeRandHexString(sessionTokenBytes)
	if err != nil {
		return "", common.ErrorInternal
	}
	now := s.clock.Now()
	session := &models.Session{
		Token:     token,
		EntityID:  entityID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.window),
	}
	if err := s.repos.Sessions(s.db).Create(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to its entity. Unknown tokens and expired
// tokens fail with distinct sentinels; an expired row is deleted on sight.
func (s *SessionService) Validate(ctx context.Context, token string) (string, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return session.EntityID, nil
}

// ValidateFor enforces entity binding: a token issued for entity A is
// rejected outright when presented in a context requiring entity B.
func (s *SessionService) ValidateFor(ctx context.Context, token, entityID string) error {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	if session.EntityID != entityID {
		return common.ErrSessionUnknown
	}
	return nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.repos.Sessions(s.db).Get(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionUnknown
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !session.ExpiresAt.After(s.clock.Now()) {
		_ = s.repos.Sessions(s.db).Delete(ctx, token)
		return nil, common.ErrSessionExpired
	}
	return session, nil
}

// Refresh slides the expiry forward one window from now, never past the
// absolute cap measured from issuance. Returns false for tokens that are
// unknown or already expired; those are never silently revived.
func (s *SessionService) Refresh(ctx context.Context, token string) (bool, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrSessionUnknown) || errors.Is(err, common.ErrSessionExpired) {
			return false, nil
		}
		return false, err
	}

	expires := s.clock.Now().Add(s.window)
	if limit := session.IssuedAt.Add(s.maxLifetime); expires.After(limit) {
		expires = limit
	}
	if err := s.repos.Sessions(s.db).UpdateExpiry(ctx, token, expires); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("refreshing session: %w", err)
	}
	return true, nil
}

// Revoke deletes a session immediately. Callers treat this as the signal
// to drop any secret they cached for the entity: once revoked, this
// service is the single source of truth that the entity is locked again.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if err := s.repos.Sessions(s.db).Delete(ctx, token); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeEntity deletes every session for an entity: explicit lock,
// passcode change, or a conflicting unlock elsewhere.
func (s *SessionService) RevokeEntity(ctx context.Context, entityID string) error {
	if err := s.repos.Sessions(s.db).DeleteByEntity(ctx, entityID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}
