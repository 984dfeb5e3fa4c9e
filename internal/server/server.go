// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/payroute/internal/audit"
	"github.com/mbd888/payroute/internal/auth"
	"github.com/mbd888/payroute/internal/config"
	"github.com/mbd888/payroute/internal/health"
	"github.com/mbd888/payroute/internal/logging"
	"github.com/mbd888/payroute/internal/metrics"
	"github.com/mbd888/payroute/internal/monitor"
	"github.com/mbd888/payroute/internal/oracle"
	"github.com/mbd888/payroute/internal/processor"
	"github.com/mbd888/payroute/internal/ratelimit"
	"github.com/mbd888/payroute/internal/realtime"
	"github.com/mbd888/payroute/internal/registry"
	"github.com/mbd888/payroute/internal/routing"
	"github.com/mbd888/payroute/internal/security"
	"github.com/mbd888/payroute/internal/traces"
	"github.com/mbd888/payroute/internal/validation"
	"github.com/mbd888/payroute/internal/webhooks"
)

// Version is reported by the health endpoint and trace resource.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	catalog      *config.Catalog
	registry     *registry.Registry
	executors    *processor.Set
	oracle       *oracle.Adapter
	auditLog     *audit.Log
	engine       *routing.Engine
	monitor      *monitor.Monitor
	realtimeHub  *realtime.Hub
	webhooks     *webhooks.Dispatcher
	webhookStore webhooks.Store
	authMgr      *auth.Manager
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	redis        *redis.Client // nil unless REDIS_URL is set
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

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

// WithCatalog replaces the processor catalog named by the config (for testing)
func WithCatalog(c *config.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op without an OTLP endpoint)
	stop, err := traces.Init(ctx, cfg.OTelEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.stopTracing = stop

	// Processor catalog
	if s.catalog == nil {
		catalog, err := config.LoadCatalog(cfg.ProcessorsFile)
		if err != nil {
			return nil, err
		}
		s.catalog = catalog
	}

	// Registry and executors
	s.registry = registry.New(
		registry.WithDegradedThreshold(cfg.DegradedThreshold),
		registry.WithLogger(s.logger),
	)
	s.executors = processor.NewSet(cfg.ExecutionTimeout)
	for _, def := range s.catalog.Processors {
		rec, err := def.Record()
		if err != nil {
			return nil, err
		}
		if err := s.registry.Register(rec); err != nil {
			return nil, fmt.Errorf("failed to register processor %s: %w", def.ID, err)
		}
		exec, err := s.newExecutor(def, rec)
		if err != nil {
			return nil, err
		}
		s.executors.Add(exec)
	}
	s.logger.Info("processors registered",
		"count", len(s.catalog.Processors),
		"catalog", catalogSource(cfg.ProcessorsFile),
	)

	// Decision oracle
	adapter, err := s.newOracle()
	if err != nil {
		return nil, err
	}
	s.oracle = adapter

	// Audit log and its sinks
	s.realtimeHub = realtime.NewHub(s.logger)
	s.webhookStore = webhooks.NewMemoryStore()
	s.webhooks = webhooks.NewDispatcher(s.webhookStore, webhooks.WithLogger(s.logger))

	auditOpts := []audit.Option{
		audit.WithLogger(s.logger),
		audit.WithSink(s.realtimeHub),
		audit.WithSink(s.webhooks),
	}
	if cfg.RedisURL != "" {
		client, err := audit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		auditOpts = append(auditOpts, audit.WithSink(audit.NewRedisSink(client, cfg.AuditChannel, cfg.AuditBacklog)))
		s.logger.Info("audit events published to redis", "channel", cfg.AuditChannel)
	}
	s.auditLog = audit.New(auditOpts...)

	// Routing engine
	s.engine = routing.NewEngine(s.registry, s.oracle, s.executors, s.auditLog, routing.Config{
		MaxAttempts: cfg.MaxRoutingAttempts,
		Thresholds: routing.Thresholds{
			Large:    cfg.LargeThreshold,
			Moderate: cfg.ModerateThreshold,
		},
		Logger: s.logger,
	})
	s.registry.OnTransition(routing.RecoveryListener(s.auditLog))
	s.registry.OnTransition(s.syncSimulatedFreeze)

	// Background health checks
	s.monitor = monitor.New(s.registry, s.executors, cfg.HealthInterval, s.logger)

	s.authMgr = auth.NewManager(cfg.AdminJWTSecret)
	if s.authMgr.Open() {
		s.logger.Warn("ADMIN_JWT_SECRET not set, admin routes are open")
	}

	s.health = health.NewRegistry()
	s.health.Register("processors", health.Routable(s.routableCount))
	s.health.Register("oracle", health.Breaker(s.oracle.OracleName(), s.oracle.BreakerState))
	if s.redis != nil {
		s.health.RegisterOptional("redis", health.Pinger(func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("router initialized",
		"session_id", s.auditLog.SessionID(),
		"oracle", s.oracle.OracleName(),
		"max_attempts", cfg.MaxRoutingAttempts,
	)
	return s, nil
}

func catalogSource(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// newExecutor builds the executor a catalog entry asks for.
func (s *Server) newExecutor(def config.ProcessorDef, rec registry.ProcessorRecord) (processor.Executor, error) {
	switch def.ExecutorType() {
	case config.ExecutorHTTP:
		// Processors usually sit on an internal network; production still needs TLS.
		policy := security.EndpointPolicy{RequireHTTPS: s.cfg.IsProduction(), AllowPrivate: true}
		if err := policy.Validate(def.Endpoint); err != nil {
			return nil, fmt.Errorf("processor %s: %w", def.ID, err)
		}
		return processor.NewHTTPExecutor(def.ID, def.Endpoint, def.APIKey(), nil), nil
	case config.ExecutorStripe:
		key := def.APIKey()
		if key == "" {
			key = s.cfg.StripeAPIKey
		}
		if key == "" {
			return nil, fmt.Errorf("processor %s: stripe executor needs STRIPE_API_KEY or api_key_env", def.ID)
		}
		return processor.NewStripeExecutor(processor.StripeConfig{
			ID:            def.ID,
			APIKey:        key,
			PaymentMethod: "pm_card_visa",
			FeePercentage: rec.Fees.Percentage,
			FeeFixed:      rec.Fees.Fixed,
		}), nil
	default:
		successRate := def.Simulation.SuccessRate
		if successRate == 0 {
			successRate = rec.Metrics.SuccessRate
		}
		sim := processor.NewSimulated(processor.SimulatedConfig{
			ID:            def.ID,
			SuccessRate:   successRate,
			Latency:       time.Duration(def.Simulation.LatencyMs) * time.Millisecond,
			Seed:          def.Simulation.Seed,
			FeePercentage: rec.Fees.Percentage,
			FeeFixed:      rec.Fees.Fixed,
		})
		sim.SetFrozen(rec.Status == registry.StatusFrozen)
		return sim, nil
	}
}

// newOracle wraps the configured backend in an adapter.
func (s *Server) newOracle() (*oracle.Adapter, error) {
	parser, err := oracle.NewParser(s.cfg.OracleOutputFormat)
	if err != nil {
		return nil, err
	}

	var backend oracle.Oracle
	switch s.cfg.OracleProvider {
	case "openai":
		backend = oracle.NewOpenAIClient(oracle.OpenAIConfig{
			APIKey:  s.cfg.OpenAIAPIKey,
			BaseURL: s.cfg.OpenAIBaseURL,
			Model:   s.cfg.OpenAIModel,
		})
	default:
		backend = oracle.Heuristic{JSON: s.cfg.OracleOutputFormat == "json"}
	}

	return oracle.NewAdapter(backend, oracle.Config{
		Timeout: s.cfg.OracleTimeout,
		Parser:  parser,
		Logger:  s.logger,
	}), nil
}

// syncSimulatedFreeze keeps demo processors consistent with operator
// freezes so a frozen simulated account actually declines.
func (s *Server) syncSimulatedFreeze(t registry.Transition) {
	exec, ok := s.executors.Get(t.ProcessorID)
	if !ok {
		return
	}
	if sim, ok := exec.(*processor.Simulated); ok {
		sim.SetFrozen(t.To == registry.StatusFrozen)
	}
}

func (s *Server) routableCount() (routable, total int) {
	recs := s.registry.List()
	for _, rec := range recs {
		if rec.Status.Routable() {
			routable++
		}
	}
	return routable, len(recs)
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

	// CORS (the API carries no cookies; bearer tokens only)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

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
		if requestID == "" || !validation.IsValidIdentifier(requestID) {
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
			logger.Debug("request completed",
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
	s.router.GET("/health", s.health.Handler(Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live audit stream
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))

	// Public API, rate limited per merchant
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())
	v1.GET("/info", s.infoHandler)

	routing.NewHandler(s.engine).RegisterRoutes(v1)

	processors := v1.Group("")
	processors.Use(validation.IDParamMiddleware("id"))
	registryHandler := registry.NewHandler(s.registry)
	registryHandler.RegisterRoutes(processors)

	auditHandler := audit.NewHandler(s.auditLog)
	auditHandler.RegisterRoutes(v1)

	// Operator routes
	admin := v1.Group("/admin")
	admin.Use(auth.RequireOperator(s.authMgr))
	admin.GET("/auth/whoami", auth.Whoami)
	admin.GET("/realtime/stats", s.realtimeStatsHandler)

	adminProcessors := admin.Group("")
	adminProcessors.Use(validation.IDParamMiddleware("id"))
	registryHandler.RegisterAdminRoutes(adminProcessors)
	auditHandler.RegisterAdminRoutes(admin)
	webhooks.NewHandler(s.webhookStore, s.webhooks).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

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
	routable, total := s.routableCount()
	c.JSON(http.StatusOK, gin.H{
		"name":        "payroute",
		"version":     Version,
		"sessionId":   s.auditLog.SessionID(),
		"oracle":      s.oracle.OracleName(),
		"circuit":     s.oracle.BreakerState().String(),
		"maxAttempts": s.cfg.MaxRoutingAttempts,
		"processors": gin.H{
			"routable": routable,
			"total":    total,
		},
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.routeWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.monitor.Start(runCtx)
	go metrics.StartRuntimeCollector(runCtx, func() int {
		n, _ := s.routableCount()
		return n
	}, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

// routeWriteTimeout leaves room for a full attempt budget.
func (s *Server) routeWriteTimeout() time.Duration {
	attempts := max(s.cfg.MaxRoutingAttempts, 1)
	return time.Duration(attempts)*(s.cfg.ExecutionTimeout+s.cfg.OracleTimeout) + 5*time.Second
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, monitor, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.monitor.Stop()
	s.logger.Info("health monitor stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Drain audit sinks, then let in-flight webhook deliveries finish
	s.auditLog.Close()
	s.webhooks.Wait()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped", "session_id", s.auditLog.SessionID())
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
