// Package api wires the HTTP surface: routes, middleware order, CORS.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/api/middleware"
	"github.com/ubl-proto/ubl/internal/app"
	"github.com/ubl-proto/ubl/internal/handlers"
	"github.com/ubl-proto/ubl/internal/mcp"
)

// NewRouter creates and configures the HTTP router. A nil redis client
// selects the in-process rate limiter backend.
func NewRouter(a *app.App, logger zerolog.Logger, redisClient *redis.Client) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(256 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
		Whitelist: a.Cfg.RateLimitWhitelist,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "X-UBL-User-Id", "X-UBL-Email", "X-UBL-Groups", "X-UBL-Service", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(a, logger)
	tools := mcp.NewServer(a, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no identity required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Identity-bearing routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Get("/api/whoami", h.Whoami)
		r.Get("/api/rooms", h.ListRooms)
		r.Post("/api/rooms", h.CreateRoom)
		r.Get("/api/rooms/{id}/history", h.History)
		r.Post("/api/rooms/{id}/messages", h.PostMessage)
		r.Get("/api/events/rooms/{id}", h.Events)
		r.Get("/api/receipts/{seq}", h.Receipt)

		r.Post("/api/workspaces/{id}/documents", h.CreateDocument)
		r.Get("/api/workspaces/{id}/documents/search", h.SearchDocuments)
		r.Get("/api/workspaces/{id}/documents/{doc_id}", h.GetDocument)
		r.Post("/api/workspaces/{id}/llm", h.Complete)

		r.Post("/mcp", tools.HandlePost)
		r.Get("/mcp", tools.HandleStream)
	})

	return r
}
