package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/logging"
)

// Verifier is one way of proving the right to unlock an entity. Every
// verification method funnels through the same UnlockService so lockout
// and session invariants hold exactly once, regardless of entry path.
type Verifier interface {
	// Method names the strategy for audit logs.
	Method() string
	// LimiterKey is the axis failures are counted on. Entity-secret
	// attempts count against the entity; administrator overrides count
	// against the administrator, so a locked entity cannot starve the
	// break-glass path and a careless administrator locks only themselves.
	LimiterKey(entityID string) string
	// Verify returns the entity's plaintext secret on success. The caller
	// needs it transiently to derive the content key; it must be wiped as
	// soon as the key is derived.
	Verify(ctx context.Context, entityID string) ([]byte, error)
}

// UnlockDenied wraps the deny sentinels with the detail the transport
// layer surfaces: attempts left below the threshold, or when a lockout
// ends. errors.Is matches the wrapped reason.
type UnlockDenied struct {
	Reason            error
	RemainingAttempts int
	LockoutEndsAt     *time.Time
}

func (e *UnlockDenied) Error() string { return e.Reason.Error() }
func (e *UnlockDenied) Unwrap() error { return e.Reason }

// UnlockResult is returned on a successful unlock.
type UnlockResult struct {
	Token string
	// Secret is the verified plaintext secret, returned so the caller can
	// derive content keys for this request. It is not persisted anywhere
	// and callers must not retain it past the session's life.
	Secret []byte
}

// UnlockService is the single state machine all unlock paths run through:
// lockout check first, then verification, then one RecordSuccess and one
// session issue.
type UnlockService struct {
	limiter  *RateLimitService
	sessions *SessionService
	logger   logging.Logger
}

func NewUnlockService(limiter *RateLimitService, sessions *SessionService, logger logging.Logger) *UnlockService {
	return &UnlockService{
		limiter:  limiter,
		sessions: sessions,
		logger:   logger.With("module", "unlock"),
	}
}

// Unlock attempts to unlock entityID with the given verification
// strategy.
//
// The lockout check runs before any verification work, and lockout takes
// precedence over correctness: while locked, a correct secret fails with
// the same LockedOut as a wrong one, so an attacker cannot learn they
// guessed right during the window. It also means no slow-hash cycles are
// burned for a locked entity.
func (s *UnlockService) Unlock(ctx context.Context, entityID string, v Verifier) (*UnlockResult, error) {
	limiterKey := v.LimiterKey(entityID)

	status, err := s.limiter.Check(ctx, limiterKey)
	if err != nil {
		return nil, err
	}
	if status.Limited {
		return nil, &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: status.LockoutEndsAt}
	}

	secret, err := v.Verify(ctx, entityID)
	if err != nil {
		failure, ferr := s.limiter.RecordFailure(ctx, limiterKey)
		if ferr != nil {
			return nil, ferr
		}
		if failure.Locked {
			return nil, &UnlockDenied{Reason: common.ErrLockedOut, LockoutEndsAt: failure.LockoutEndsAt}
		}
		return nil, &UnlockDenied{Reason: common.ErrInvalidSecret, RemainingAttempts: failure.RemainingAttempts}
	}

	if err := s.limiter.RecordSuccess(ctx, limiterKey); err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if v.Method() != MethodSecret {
		// Break-glass and assisted unlocks are always audited.
		s.logger.Info(ctx, "non-secret unlock", "method", v.Method(), "entity_id", entityID)
	}

	return &UnlockResult{Token: token, Secret: secret}, nil
}

// Lock revokes the session and returns the entity to the locked state.
// Revocation is the caller's cue to discard any cached secret.
func (s *UnlockService) Lock(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Verification method names.
const (
	MethodSecret        = "secret"
	MethodAdminOverride = "admin_override"
)

// PasscodeVerifier proves access with the entity's own passcode/password.
type PasscodeVerifier struct {
	passcodes *PasscodeService
	candidate []byte
}

func NewPasscodeVerifier(p *PasscodeService, candidate []byte) *PasscodeVerifier {
	return &PasscodeVerifier{passcodes: p, candidate: candidate}
}

func (v *PasscodeVerifier) Method() string { return MethodSecret }

func (v *PasscodeVerifier) LimiterKey(entityID string) string { return entityID }

func (v *PasscodeVerifier) Verify(ctx context.Context, entityID string) ([]byte, error) {
	cred, err := v.passcodes.GetCredential(ctx, entityID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// An unknown entity is indistinguishable from a wrong secret.
			return nil, common.ErrInvalidSecret
		}
		return nil, err
	}
	ok, err := v.passcodes.VerifySecret(v.candidate, cred)
	if err != nil {
		return nil, fmt.Errorf("verifying secret: %w", err)
	}
	if !ok {
		return nil, common.ErrInvalidSecret
	}
	return v.candidate, nil
}

// AdminOverrideVerifier is the break-glass path: an authenticated
// administrator recovers the entity's secret from its master-key-sealed
// copy. Failures count against the administrator, not the entity, and
// every successful use is logged by UnlockService.
type AdminOverrideVerifier struct {
	passcodes *PasscodeService
	adminID   string
}

func NewAdminOverrideVerifier(p *PasscodeService, adminID string) *AdminOverrideVerifier {
	return &AdminOverrideVerifier{passcodes: p, adminID: adminID}
}

func (v *AdminOverrideVerifier) Method() string { return MethodAdminOverride }
func (v *AdminOverrideVerifier) LimiterKey(string) string {
	return "admin:" + v.adminID
}

func (v *AdminOverrideVerifier) Verify(ctx context.Context, entityID string) ([]byte, error) {
	secret, err := v.passcodes.RecoverSecret(ctx, entityID)
	if err != nil {
		return nil, common.ErrInvalidSecret
	}
	return secret, nil
}
