package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/cloak/internal/audit"
	"github.com/dativo-io/cloak/internal/detector"
	"github.com/dativo-io/cloak/internal/otel"
	"github.com/dativo-io/cloak/internal/redact"
)

const defaultTimeout = 30 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router         *chi.Mux
	engine         *redact.Engine
	recognizers    []detector.RecognizerInfo
	auditStore     *audit.Store
	limiter        *RateLimiter
	apiKeys        map[string]string
	corsOrigins    []string
	scoreThreshold float64
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAuditStore enables per-request audit records.
func WithAuditStore(s *audit.Store) Option {
	return func(srv *Server) { srv.auditStore = s }
}

// WithRateLimiter sets the request rate limiter (optional).
func WithRateLimiter(rl *RateLimiter) Option {
	return func(srv *Server) { srv.limiter = rl }
}

// WithAPIKeys enables API-key auth. Keys map to caller names.
func WithAPIKeys(keys map[string]string) Option {
	return func(srv *Server) { srv.apiKeys = keys }
}

// WithCORSOrigins sets allowed CORS origins (default ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(srv *Server) { srv.corsOrigins = origins }
}

// WithRecognizerInfo sets the recognizer summaries served at /v1/patterns.
func WithRecognizerInfo(infos []detector.RecognizerInfo) Option {
	return func(srv *Server) { srv.recognizers = infos }
}

// WithScoreThreshold sets the default minimum confidence applied when a
// request omits score_threshold.
func WithScoreThreshold(threshold float64) Option {
	return func(srv *Server) { srv.scoreThreshold = threshold }
}

// NewServer builds a Server around the redaction engine.
func NewServer(engine *redact.Engine, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		engine:         engine,
		corsOrigins:    []string{"*"},
		scoreThreshold: redact.DefaultScoreThreshold,
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/anonymize", s.handleAnonymize)
		// Legacy path kept for clients of the original service.
		r.Post("/anonymize", s.handleAnonymize)

		r.Get("/v1/patterns", s.handlePatterns)
		r.Get("/v1/audit", s.handleAuditList)
	})

	return r
}
