// Package rest provides the HTTP API of the access control core
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/internal/editor"
	"github.com/hrdesk/pbac/internal/engine"
	"github.com/hrdesk/pbac/internal/metrics"
	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/internal/policy"
	"github.com/hrdesk/pbac/internal/ratelimit"
)

const streamPath = "/v1/notifications/stream"

// Config configures the REST API server
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
	CookieSecure   bool
	Version        string

	// TrustForwardedFor keys rate limiting on X-Forwarded-For
	TrustForwardedFor bool
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 30 * time.Second,
		Version:        "dev",
	}
}

// Dependencies are the components the server routes to. Limiter, Hub and
// Metrics are optional.
type Dependencies struct {
	Engine   *engine.Engine
	Policies *policy.Service
	Gate     *editor.Gate
	Resolver *auth.Resolver
	Users    auth.UserReader
	Hub      *notify.Hub
	Limiter  ratelimit.Limiter
	Metrics  metrics.Metrics
}

// Server is the REST API server
type Server struct {
	engine     *engine.Engine
	policies   *policy.Service
	gate       *editor.Gate
	resolver   *auth.Resolver
	users      auth.UserReader
	hub        *notify.Hub
	limiter    ratelimit.Limiter
	metrics    metrics.Metrics
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	startTime  time.Time
}

// New creates a new REST API server
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Policies == nil {
		return nil, fmt.Errorf("policy service is required")
	}
	if deps.Resolver == nil || deps.Users == nil {
		return nil, fmt.Errorf("identity resolver and user reader are required")
	}
	if deps.Gate == nil {
		deps.Gate = editor.NewGate(deps.Policies)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:    deps.Engine,
		policies:  deps.Policies,
		gate:      deps.Gate,
		resolver:  deps.Resolver,
		users:     deps.Users,
		hub:       deps.Hub,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(s.corsMiddleware)
	}
	if s.config.RequestTimeout > 0 {
		s.router.Use(s.timeoutMiddleware)
	}

	// Preflight requests are answered before authentication
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods(http.MethodGet)

	login := http.Handler(http.HandlerFunc(s.loginHandler))
	if s.limiter != nil {
		login = ratelimit.Middleware(s.limiter, "login", s.config.TrustForwardedFor, s.logger, func(*http.Request) {
			s.metrics.RecordRateLimited("login")
		})(login)
	}
	s.router.Handle("/v1/auth/login", login).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/auth/logout", s.logoutHandler).Methods(http.MethodPost)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(auth.NewMiddleware(s.resolver, s.logger).Handler)

	v1.HandleFunc("/auth/me", s.meHandler).Methods(http.MethodGet)
	v1.HandleFunc("/roles", s.listRolesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{id}/policies", s.rolePoliciesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/policies", s.userPoliciesHandler).Methods(http.MethodGet)

	policies := v1.PathPrefix("/policies").Subrouter()
	policies.HandleFunc("", s.listPoliciesHandler).Methods(http.MethodGet)
	policies.HandleFunc("", s.createPolicyHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}", s.getPolicyHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}", s.updatePolicyHandler).Methods(http.MethodPut)
	policies.HandleFunc("/{id}", s.deletePolicyHandler).Methods(http.MethodDelete)
	policies.HandleFunc("/{id}/activate", s.activatePolicyHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}/archive", s.archivePolicyHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}/versions", s.listVersionsHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}/rules", s.listRulesHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}/rules", s.addRuleHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}/bindings", s.listBindingsHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}/bindings", s.bindHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}/editors", s.listEditorsHandler).Methods(http.MethodGet)
	policies.HandleFunc("/{id}/editors", s.grantEditorHandler).Methods(http.MethodPost)
	policies.HandleFunc("/{id}/editors/{level:[0-9]+}", s.revokeEditorHandler).Methods(http.MethodDelete)

	v1.HandleFunc("/rules/{id}", s.removeRuleHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/bindings/{id}", s.unbindHandler).Methods(http.MethodDelete)

	v1.HandleFunc("/authorize", s.authorizeHandler).Methods(http.MethodPost)
	v1.HandleFunc("/simulate", s.simulateHandler).Methods(http.MethodPost)

	v1.HandleFunc("/notifications/stream", s.streamHandler).Methods(http.MethodGet)
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.String("addr", s.config.Addr),
		zap.Strings("cors_origins", s.config.CORSOrigins),
		zap.Bool("rate_limited_login", s.limiter != nil),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]interface{}{
		"engine":       "ok",
		"policy_store": "ok",
	}
	if stats := s.engine.GetCacheStats(); stats != nil {
		checks["cache"] = map[string]interface{}{
			"size":     stats.Size,
			"hit_rate": stats.HitRate,
		}
	}
	if s.hub != nil {
		published, dropped := s.hub.Stats()
		checks["notifications"] = map[string]interface{}{
			"subscribers": s.hub.SubscriberCount(),
			"published":   published,
			"dropped":     dropped,
		}
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.config.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks:    checks,
	})
}
