// Package api serves the read-only status API, the event stream and the
// operator control endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/auth"
	"perp-trading-agent/internal/bot"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/tracker"
)

// Bots is what the API needs from the bot manager
type Bots interface {
	Statuses() []bot.Status
	Status(name string) (bot.Status, error)
	StartBot(name string) error
	StopBot(name string) error
	ResetBreaker(name string) error
	Decisions(ctx context.Context, name string, limit int) ([]decision.LogEntry, error)
	Trades(name string, limit int) ([]tracker.TradeRecord, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RateLimiter limits requests per client IP
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute requests per client with a burst of burst
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	bots        Bots
	hub         *WSHub
	jwt         *auth.JWTManager
	health      map[string]HealthChecker
	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// Option customizes a Server
type Option func(*Server)

// WithHealthCheck adds a named dependency to /health
func WithHealthCheck(name string, hc HealthChecker) Option {
	return func(s *Server) {
		if hc != nil {
			s.health[name] = hc
		}
	}
}

// WithRateLimit replaces the default per-client limit
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Server) {
		s.rateLimiter = NewRateLimiter(perMinute, burst)
	}
}

// NewServer creates a new API server. A nil jwtManager leaves the control
// endpoints unregistered.
func NewServer(cfg config.ServerConfig, bots Bots, bus *events.EventBus, jwtManager *auth.JWTManager, logger *logging.Logger, opts ...Option) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.WithComponent("http")))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      cfg,
		bots:        bots,
		hub:         NewWSHub(logger),
		jwt:         jwtManager,
		health:      make(map[string]HealthChecker),
		rateLimiter: NewRateLimiter(120, 20),
		logger:      logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.hub.Run()
	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:5173"}
	}
	return out
}

// requestLogger logs one line per request
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logger.WithDuration(time.Since(start))
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			log.Error("HTTP request", kv...)
			return
		}
		log.Debug("HTTP request", kv...)
	}
}

// rateLimitMiddleware limits requests by client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/bots", s.handleListBots)
		api.GET("/bots/:name", s.handleGetBot)
		api.GET("/bots/:name/decisions", s.handleGetDecisions)
		api.GET("/trades", s.handleGetTrades)
		api.GET("/stats", s.handleGetStats)
	}

	if s.jwt == nil {
		s.logger.Warn("No JWT secret configured, bot control endpoints disabled")
		return
	}

	control := api.Group("/bots/:name")
	control.Use(auth.Middleware(s.jwt), auth.RequireOperator())
	{
		control.POST("/start", s.handleStartBot)
		control.POST("/stop", s.handleStopBot)
		control.POST("/reset-breaker", s.handleResetBreaker)
	}
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
