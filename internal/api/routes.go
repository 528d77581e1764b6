package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	metrics    *metrics.Metrics
	config     config.ServerConfig
	logger     *logger.Logger
}

// NewRouter creates the router. ctx bounds work started by requests that
// outlive them, such as processing.
func NewRouter(ctx context.Context, manager *session.Manager, m *metrics.Metrics, cfg config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(ctx, manager, log),
		middleware: NewMiddleware(log),
		metrics:    m,
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)

		router.Get("/sessions", r.handler.ListSessions)
		router.Get("/sessions/{id}", r.handler.GetSession)
		router.Get("/sessions/{id}/segments", r.handler.GetSegments)
		router.Get("/sessions/{id}/actions", r.handler.GetActionItems)
		router.Get("/sessions/{id}/live", r.handler.StreamLive)
		router.Post("/sessions/{id}/process", r.handler.ProcessSession)

		router.Get("/search", r.handler.Search)
	})

	router.Handle("/metrics", r.metrics.Handler())

	return router
}
