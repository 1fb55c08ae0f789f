package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. The redirect path stays free of
// request-logging middleware: it runs on every click and the write-behind
// logger already records each hit.
func SetupRoutes(h *Handlers, adminOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)
	r.Get("/r/{idAndSuffix}", h.HandleRedirect)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   adminOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Get("/blacklist", h.AdminListBlacklist)
		r.Get("/blacklist/stats", h.AdminBlacklistStats)
		r.Post("/blacklist/import", h.AdminImportRanges)
		r.Delete("/blacklist", h.AdminClearBlacklist)
		r.Delete("/blacklist/*", h.AdminRemoveRange)
		r.Delete("/ipcache/{ip}", h.AdminDeleteCachedIP)
		r.Post("/redirects/{publicID}/invalidate", h.AdminInvalidateRedirect)
		r.Get("/stats", h.AdminStats)
	})

	return r
}
