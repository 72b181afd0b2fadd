package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/services"
)

type errorResponse struct {
	Error             string     `json:"error"`
	RemainingAttempts *int       `json:"remaining_attempts,omitempty"`
	LockoutEndsAt     *time.Time `json:"lockout_ends_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service-layer sentinels to HTTP statuses. The
// messages are deliberately generic: a wrong secret, a tampered row, and
// an unknown entity all read the same from outside.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *services.UnlockDenied
	if errors.As(err, &denied) {
		resp := errorResponse{LockoutEndsAt: denied.LockoutEndsAt}
		if errors.Is(denied.Reason, common.ErrLockedOut) {
			resp.Error = "locked out"
			writeJSON(w, http.StatusTooManyRequests, resp)
			return
		}
		resp.Error = "invalid credentials"
		resp.RemainingAttempts = &denied.RemainingAttempts
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	switch {
	case errors.Is(err, common.ErrInvalidSecret),
		errors.Is(err, common.ErrAuthenticationFailed):
		writeErr(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, common.ErrLockedOut):
		writeErr(w, http.StatusTooManyRequests, "locked out")
	case errors.Is(err, common.ErrSessionExpired),
		errors.Is(err, common.ErrSessionUnknown),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		writeErr(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, common.ErrorNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrVersionConflict),
		errors.Is(err, common.ErrAlreadyUpgraded),
		errors.Is(err, common.ErrMigrationIncomplete):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
