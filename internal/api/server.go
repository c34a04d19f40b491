package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/proximity-alerts/internal/api/handler"
	"github.com/albapepper/proximity-alerts/internal/api/respond"
	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps handler.Deps, jwt *auth.JWT, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag", "Retry-After"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(deps)
	requireUser := auth.Middleware(jwt)

	// --- Routes ---

	// Push channel. Registered outside the group below so no response
	// writer wrapper sits between the upgrader and the connection.
	r.With(requireUser).Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(TimingMiddleware)
		r.Use(middleware.Compress(5)) // gzip

		// Root
		r.Get("/", h.Root)

		// Health checks
		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.HealthCheck)
			r.Get("/db", h.HealthCheckDB)
			r.Get("/cache", h.HealthCheckCache)
		})

		// Swagger UI
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(requireUser)

			// Locations
			if cfg.IngestPerMinute > 0 {
				r.With(IngestLimitMiddleware(cfg.IngestPerMinute)).Post("/locations", h.PostLocation)
			} else {
				r.Post("/locations", h.PostLocation)
			}

			// Emergencies
			r.Post("/emergencies", h.PostEmergency)
			r.Get("/emergencies/active", h.GetActiveEmergencies)
			r.Post("/emergencies/{alertID}/resolve", h.ResolveEmergency)

			// Meetings
			r.Get("/meetings", h.GetMeetings)
			r.Get("/meeting-point", h.GetMeetingPoint)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})

	return r
}
