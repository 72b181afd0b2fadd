package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the full route tree: public endpoints, session-gated
// entity endpoints, and the administrator group.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/entities", h.CreateEntity)
	r.Post("/api/unlock", h.Unlock)
	r.Post("/api/recovery/reset-password", h.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)

		r.Post("/api/lock", h.Lock)
		r.Post("/api/session/refresh", h.RefreshSession)

		r.Post("/api/content/{kind}/read", h.ReadContent)
		r.Put("/api/content/{kind}", h.WriteContent)
		r.Delete("/api/content/{kind}", h.DeleteContent)

		r.Post("/api/passcode", h.ChangePasscode)
		r.Post("/api/migrate", h.Migrate)
		r.Post("/api/recovery-code/view", h.ViewRecoveryCode)
		r.Post("/api/recovery-code/regenerate", h.RegenerateRecoveryCode)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Post("/api/admin/entities/{entityID}/unlock", h.AdminUnlock)
	})

	return r
}
