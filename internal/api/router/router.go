package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/pharma-scheduling/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/pharma-scheduling/internal/http/middleware"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Availability   *handlers.AvailabilityHandler
	Bookings       *handlers.BookingHandler
	Approvals      *handlers.ApprovalHandler
	Sweeps         *handlers.SweepHandler
	MetricsHandler http.Handler

	ApproverAuthSecret string
	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// Per-client limits on /api/v1. Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		if cfg.Availability != nil {
			api.Post("/availability", cfg.Availability.Calculate)
			api.Post("/availability/optimal", cfg.Availability.Optimal)
		}
		if cfg.Bookings != nil {
			api.Post("/bookings", cfg.Bookings.Create)
			api.Patch("/bookings/{appointmentID}", cfg.Bookings.Modify)
			api.Post("/bookings/{appointmentID}/cancel", cfg.Bookings.Cancel)
		}
		if cfg.Approvals != nil {
			api.Get("/approvals/{appointmentID}", cfg.Approvals.Status)
			api.With(httpmiddleware.ApproverJWT(cfg.ApproverAuthSecret)).
				Post("/approvals/{appointmentID}/decisions", cfg.Approvals.Decide)
		}
	})

	// Sweeps are only reachable with an admin token; without a secret the routes do not exist.
	if cfg.Sweeps != nil && cfg.AdminAuthSecret != "" {
		r.Route("/internal", func(internal chi.Router) {
			internal.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			internal.Post("/sweeps/{kind}", cfg.Sweeps.Run)
		})
	}

	return r
}
