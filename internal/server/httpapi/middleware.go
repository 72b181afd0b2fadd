package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/auth"
)

type ctxKey int

const (
	ctxKeyEntityID ctxKey = iota
	ctxKeyToken
	ctxKeyAdminID
)

// sessionToken extracts the opaque session token from the cookie, falling
// back to a bearer header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(common.SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(header, "Bearer "); token != header {
		return token
	}
	return ""
}

// requireSession resolves the session token to its entity and stores both
// on the request context. Unknown and expired tokens are both a plain 401.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		entityID, err := h.sessions.Validate(r.Context(), token)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyEntityID, entityID)
		ctx = context.WithValue(ctx, ctxKeyToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin verifies the administrator bearer token and stores the
// administrator's identity for audit attribution.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AdminTokenHeaderName)
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		adminID, err := auth.GetAdminIDFromToken(token, []byte(h.cfg.AdminJWTSecret))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAdminID, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func entityIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyEntityID).(string)
	return id
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(ctxKeyToken).(string)
	return token
}

func adminIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyAdminID).(string)
	return id
}
