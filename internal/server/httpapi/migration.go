package httpapi

import (
	"net/http"

	"github.com/mkorchagin/praylock/internal/server/models"
)

type changePasscodeRequest struct {
	OldSecret string `json:"old_secret"`
	NewSecret string `json:"new_secret"`
}

// ChangePasscode changes the entity's secret. The work depends on the
// account's scheme: a legacy account re-keys every blob, an upgraded one
// only rewraps the DEK, and a mid-migration account does both. Either way
// all sessions are revoked, this one included, so the client must unlock
// again with the new secret.
func (h *Handler) ChangePasscode(w http.ResponseWriter, r *http.Request) {
	var req changePasscodeRequest
	if err := decodeJSON(r, &req); err != nil || req.OldSecret == "" || req.NewSecret == "" {
		writeErr(w, http.StatusBadRequest, "old_secret and new_secret are required")
		return
	}
	entityID := entityIDFrom(r.Context())

	state, err := h.migrations.State(r.Context(), entityID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if state == models.MigrationUpgraded {
		err = h.migrations.RewrapPassword(r.Context(), entityID, []byte(req.OldSecret), []byte(req.NewSecret))
	} else {
		err = h.passcodes.UpdatePasscode(r.Context(), entityID, []byte(req.OldSecret), []byte(req.NewSecret))
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type secretRequest struct {
	Secret string `json:"secret"`
}

type recoveryCodeResponse struct {
	RecoveryCode string `json:"recovery_code"`
}

// Migrate upgrades the session's account to envelope encryption and
// returns the recovery code. This is the moment to show the code to the
// user; it is retrievable later only through ViewRecoveryCode.
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "secret is required")
		return
	}

	result, err := h.migrations.Migrate(r.Context(), entityIDFrom(r.Context()), []byte(req.Secret))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodeResponse{RecoveryCode: result.RecoveryCode})
}

// ViewRecoveryCode re-displays the recovery code after a fresh password
// check; the session alone is not enough to see it.
func (h *Handler) ViewRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "secret is required")
		return
	}

	code, err := h.migrations.ViewRecoveryCode(r.Context(), entityIDFrom(r.Context()), []byte(req.Secret))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodeResponse{RecoveryCode: code})
}

// RegenerateRecoveryCode replaces the recovery code with a fresh one,
// invalidating the old code immediately.
func (h *Handler) RegenerateRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "secret is required")
		return
	}

	code, err := h.migrations.RegenerateRecoveryCode(r.Context(), entityIDFrom(r.Context()), []byte(req.Secret))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodeResponse{RecoveryCode: code})
}

type resetPasswordRequest struct {
	EntityID     string `json:"entity_id"`
	RecoveryCode string `json:"recovery_code"`
	NewSecret    string `json:"new_secret"`
}

// ResetPassword sets a new password using the recovery code. No session
// required; the code itself is the proof of access.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.EntityID == "" || req.RecoveryCode == "" || req.NewSecret == "" {
		writeErr(w, http.StatusBadRequest, "entity_id, recovery_code and new_secret are required")
		return
	}

	if err := h.migrations.ResetPasswordWithRecoveryCode(r.Context(), req.EntityID, req.RecoveryCode, []byte(req.NewSecret)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
