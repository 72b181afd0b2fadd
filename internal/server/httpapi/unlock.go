package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
	"github.com/mkorchagin/praylock/internal/server/services"
)

type createEntityRequest struct {
	EntityID     string `json:"entity_id"`
	Secret       string `json:"secret"`
	WithRecovery bool   `json:"with_recovery"`
}

type createEntityResponse struct {
	EntityID string `json:"entity_id"`
}

// CreateEntity provisions a new gated entity: a credential plus an
// explicitly empty prayer list, so the first read after an unlock finds a
// well-formed document rather than a missing row. An omitted entity_id is
// generated server-side.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "secret is required")
		return
	}
	if req.EntityID == "" {
		req.EntityID = uuid.NewString()
	}

	secret := []byte(req.Secret)
	if err := h.passcodes.CreateCredential(r.Context(), req.EntityID, secret, req.WithRecovery); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.content.WriteContent(r.Context(), req.EntityID, models.BlobKindPrayerList, []byte(services.EmptyPrayerList), secret); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createEntityResponse{EntityID: req.EntityID})
}

type unlockRequest struct {
	EntityID string `json:"entity_id"`
	Secret   string `json:"secret"`
}

type unlockResponse struct {
	Token string `json:"token"`
}

// Unlock verifies the entity's secret and issues a session. The token is
// set as an HttpOnly cookie and also returned in the body for clients that
// prefer the bearer header.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil || req.EntityID == "" || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "entity_id and secret are required")
		return
	}

	verifier := services.NewPasscodeVerifier(h.passcodes, []byte(req.Secret))
	result, err := h.unlock.Unlock(r.Context(), req.EntityID, verifier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, unlockResponse{Token: result.Token})
}

// Lock revokes the current session and clears the cookie.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	if err := h.unlock.Lock(r.Context(), tokenFrom(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSession slides the session window forward. A token that is
// already expired is not revived; the client must unlock again.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	ok, err := h.sessions.Refresh(r.Context(), tokenFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminUnlockResponse struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// AdminUnlock is the break-glass path: an authenticated administrator
// opens a session for the entity without its secret. The recovered
// passcode is returned alongside the token, since content decryption
// needs it on every request. Every use is logged with the
// administrator's identity.
func (h *Handler) AdminUnlock(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	adminID := adminIDFrom(r.Context())

	verifier := services.NewAdminOverrideVerifier(h.passcodes, adminID)
	result, err := h.unlock.Unlock(r.Context(), entityID, verifier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	secret := string(result.Secret)
	common.WipeByteArray(result.Secret)

	h.logger.Info(r.Context(), "administrator override unlock", "admin_id", adminID, "entity_id", entityID)
	writeJSON(w, http.StatusOK, adminUnlockResponse{Token: result.Token, Secret: secret})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.cfg.SessionMaxLifetime.Seconds()),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
