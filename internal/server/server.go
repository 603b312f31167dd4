// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/greenlight-sh/greenlight/internal/audit"
	"github.com/greenlight-sh/greenlight/internal/auth"
	"github.com/greenlight-sh/greenlight/internal/config"
	"github.com/greenlight-sh/greenlight/internal/emergency"
	"github.com/greenlight-sh/greenlight/internal/engine"
	"github.com/greenlight-sh/greenlight/internal/health"
	"github.com/greenlight-sh/greenlight/internal/idgen"
	"github.com/greenlight-sh/greenlight/internal/logging"
	"github.com/greenlight-sh/greenlight/internal/metrics"
	"github.com/greenlight-sh/greenlight/internal/pattern"
	"github.com/greenlight-sh/greenlight/internal/policy"
	"github.com/greenlight-sh/greenlight/internal/ratelimit"
	"github.com/greenlight-sh/greenlight/internal/realtime"
	"github.com/greenlight-sh/greenlight/internal/safety"
	"github.com/greenlight-sh/greenlight/internal/security"
	"github.com/greenlight-sh/greenlight/internal/validation"
	"github.com/greenlight-sh/greenlight/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the decision engine's dependencies.
type Server struct {
	cfg          *config.Config
	engine       *engine.Engine
	patterns     pattern.Store
	auditLog     audit.Store
	ruleStore    policy.Store
	evaluator    *policy.Evaluator
	emergencyCtl *emergency.Controller
	authMgr      *auth.Manager
	realtimeHub  *realtime.Hub
	webhookStore webhooks.Store
	sweeper      *engine.Sweeper
	rateLimiter  *ratelimit.Limiter
	healthChecks *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		auditStore := audit.NewPostgresStore(db)
		if err := auditStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit store", "error", err)
		}
		s.auditLog = auditStore

		patternStore := pattern.NewPostgresStore(db)
		if err := patternStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate pattern store", "error", err)
		}
		s.patterns = patternStore

		ruleStore := policy.NewPostgresStore(db)
		if err := ruleStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate rule store", "error", err)
		}
		s.ruleStore = ruleStore

		authStore := auth.NewPostgresStore(db)
		if err := authStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		s.authMgr = auth.NewManager(authStore)

		webhookStore := webhooks.NewPostgresStore(db)
		if err := webhookStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		s.webhookStore = webhookStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.auditLog = audit.NewMemoryStore()
		s.patterns = pattern.NewMemoryStore()
		s.ruleStore = policy.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.webhookStore = webhooks.NewMemoryStore()
	}

	// Default SOP rules. Seeding is a no-op on a non-empty store.
	if cfg.SeedDefaultRules {
		n, err := policy.SeedDefaults(ctx, s.ruleStore)
		if err != nil {
			s.logger.Warn("failed to seed default rules", "error", err)
		} else if n > 0 {
			s.logger.Info("seeded default SOP rules", "count", n)
		}
	}

	s.evaluator = policy.NewEvaluator(s.ruleStore).WithCacheTTL(cfg.RuleCacheTTL)

	gateOpts := []safety.Option{}
	if cfg.WorkspaceRoot != "" {
		gateOpts = append(gateOpts, safety.WithWorkspaceRoot(cfg.WorkspaceRoot))
		s.logger.Info("workspace boundary enforced", "root", cfg.WorkspaceRoot)
	}
	gate := safety.NewGate(s.auditLog, gateOpts...)

	s.emergencyCtl = emergency.NewController(cfg.AdminSecret,
		emergency.WithThresholds(cfg.EmergencyWindow, cfg.EmergencyFailures, cfg.EmergencyRatio))
	if cfg.AdminSecret == "" {
		s.logger.Warn("no admin secret configured, emergency reset is disabled")
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	// Decision events fan out to WebSocket subscribers and webhook endpoints.
	emitter := webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore), s.logger)
	sink := fanoutSink{s.realtimeHub, emitter}

	s.engine = engine.New(s.patterns, s.auditLog, s.evaluator, gate, s.emergencyCtl, sink)

	s.sweeper = engine.NewSweeper(s.patterns, s.auditLog, cfg.Retention(), cfg.SweepInterval, s.logger)

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time decision streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group. Soft auth everywhere; RequireAuth guards mutations.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	authHandler := auth.NewHandler(s.authMgr)

	// REGISTRATION (public but returns API key)
	v1.POST("/agents", authHandler.Register)

	// API key management
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.Whoami)

		// Decision pipeline: agents submit operations and report back outcomes.
		protected.POST("/decisions/evaluate", s.evaluateHandler)
		protected.POST("/decisions/:decisionId/outcome", s.outcomeHandler)

		// Webhook subscriptions for decision and emergency events.
		webhooks.NewHandler(s.webhookStore).RegisterRoutes(protected)
	}

	// Audit replay surface (public read)
	v1.GET("/decisions", s.listDecisionsHandler)
	v1.GET("/decisions/:decisionId", s.getDecisionHandler)

	// Agent-scoped replay, with the id checked before any store work.
	agents := v1.Group("/agents/:agentID")
	agents.Use(validation.AgentParamMiddleware())
	agents.GET("/decisions", s.listDecisionsHandler)
	v1.GET("/report", s.reportHandler)
	v1.GET("/emergency", s.emergencyStatusHandler)

	// ADMIN ROUTES (shared admin secret)
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		admin.POST("/emergency/trip", s.emergencyTripHandler)
		admin.POST("/emergency/reset", s.emergencyResetHandler)

		policy.NewHandler(s.ruleStore, s.evaluator).RegisterRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) setupHealthChecks() {
	s.healthChecks = health.NewRegistry()

	if s.db != nil {
		db := s.db
		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// A tripped stop is an intended state, not an outage: report it as a
	// detail so orchestrators do not restart the service to "fix" it.
	s.healthChecks.Register("emergency", func(ctx context.Context) health.Status {
		state := s.emergencyCtl.State()
		st := health.Status{Name: "emergency", Healthy: true}
		if state.Tripped {
			st.Detail = "emergency stop active: " + state.Reason
		}
		return st
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Greenlight",
		"description": "Safety-gated auto-acceptance engine for agent operations",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start retention sweeper
	go s.sweeper.Start(runCtx)

	// DB pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("retention sweeper stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the decision engine for testing
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// fanoutSink forwards engine events to every configured sink.
type fanoutSink []engine.EventSink

var _ engine.EventSink = (fanoutSink)(nil)

func (f fanoutSink) BroadcastDecision(d map[string]interface{}) {
	for _, s := range f {
		s.BroadcastDecision(d)
	}
}

func (f fanoutSink) BroadcastOutcome(o map[string]interface{}) {
	for _, s := range f {
		s.BroadcastOutcome(o)
	}
}

func (f fanoutSink) BroadcastEmergency(tripped bool, reason string) {
	for _, s := range f {
		s.BroadcastEmergency(tripped, reason)
	}
}

func generateRequestID() string {
	return idgen.Hex(16)
}
