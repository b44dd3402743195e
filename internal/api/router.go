package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/recall/internal/middleware"
)

// HandlerSet holds handler functions injected from the CLI to avoid import cycles.
type HandlerSet struct {
	// Memory handlers
	ListMemories   http.HandlerFunc
	CreateMemory   http.HandlerFunc
	SearchMemories http.HandlerFunc

	// Conversation handlers
	SendMessage  http.HandlerFunc
	GetContext   http.HandlerFunc
	ResetContext http.HandlerFunc

	// Turn audit log, optional
	ListTurns http.HandlerFunc

	// WebSocket chat transport, optional
	Chat http.Handler
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	// RateLimiter is applied to /api/v1 when set.
	RateLimiter func(http.Handler) http.Handler
	// ReadinessChecks are run by /health/ready, keyed by dependency name.
	ReadinessChecks map[string]ReadinessCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := readiness(cfg.ReadinessChecks)
	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	if h.Chat != nil {
		r.Handle("/ws/chat", h.Chat)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Route("/memories", func(r chi.Router) {
				r.Get("/", h.ListMemories)
				r.Post("/", h.CreateMemory)
				r.Post("/search", h.SearchMemories)
			})

			r.Post("/messages", h.SendMessage)
			r.Get("/context", h.GetContext)
			r.Delete("/context", h.ResetContext)

			if h.ListTurns != nil {
				r.Get("/turns", h.ListTurns)
			}
		})
	})

	return r
}

func readiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, name := range names {
			if err := checks[name](r.Context()); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}
}
