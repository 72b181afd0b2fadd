package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkorchagin/praylock/internal/server/models"
)

var allowedKinds = map[string]bool{
	models.BlobKindPrayerList:  true,
	models.BlobKindDisplayName: true,
}

func blobKind(r *http.Request) (string, bool) {
	kind := chi.URLParam(r, "kind")
	return kind, allowedKinds[kind]
}

type readContentRequest struct {
	Secret string `json:"secret"`
}

type contentResponse struct {
	Content json.RawMessage `json:"content"`
}

// ReadContent decrypts one content document for the session's entity. The
// secret must accompany the request: the server keeps no key between
// calls, so a session without the secret can prove identity but decrypt
// nothing.
func (h *Handler) ReadContent(w http.ResponseWriter, r *http.Request) {
	kind, ok := blobKind(r)
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	var req readContentRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeErr(w, http.StatusBadRequest, "secret is required")
		return
	}

	plaintext, err := h.content.ReadContent(r.Context(), entityIDFrom(r.Context()), kind, []byte(req.Secret))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Content: plaintext})
}

type writeContentRequest struct {
	Secret  string          `json:"secret"`
	Content json.RawMessage `json:"content"`
}

// WriteContent replaces one content document wholesale under a fresh
// nonce. There is no partial update: the document is small and the
// envelope is authenticated as a unit.
func (h *Handler) WriteContent(w http.ResponseWriter, r *http.Request) {
	kind, ok := blobKind(r)
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	var req writeContentRequest
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" || len(req.Content) == 0 {
		writeErr(w, http.StatusBadRequest, "secret and content are required")
		return
	}

	if err := h.content.WriteContent(r.Context(), entityIDFrom(r.Context()), kind, req.Content, []byte(req.Secret)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteContent removes one content document outright.
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	kind, ok := blobKind(r)
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.content.DeleteContent(r.Context(), entityIDFrom(r.Context()), kind); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
