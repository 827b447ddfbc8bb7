package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/gate"
	"github.com/formationhq/riskgate/internal/pipeline"
	"github.com/formationhq/riskgate/internal/review"
	"github.com/formationhq/riskgate/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, p *pipeline.Pipeline, g *gate.Gate, rw *review.Workflow, ledger domain.Ledger, cache domain.Cache, engine *rules.Engine, version string) *Server {
	handler := NewHandler(p, g, rw, ledger, cache, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Pre-payment assessment
		r.Post("/assess", handler.Assess)

		// Assessment retrieval (reviewer surface: full record with evidence)
		r.Get("/assessments/{id}", handler.GetAssessment)
		r.Get("/orders/{orderID}/assessment", handler.GetOrderAssessment)
		r.Get("/orders/{orderID}/assessments", handler.ListOrderAssessments)

		// Admission gate (checkout surface: reason codes only)
		r.Get("/orders/{orderID}/admission", handler.GetAdmission)
		r.Post("/orders/{orderID}/capture", handler.CapturePayment)
		r.Post("/orders/{orderID}/reassess", handler.Reassess)

		// Review workflow
		r.Post("/assessments/{id}/review", handler.SubmitReview)
		r.Get("/assessments/{id}/review", handler.GetReview)
		r.Get("/reviews/pending", handler.ListPendingReviews)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
