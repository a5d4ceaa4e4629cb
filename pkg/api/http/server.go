package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/application/events"
	"github.com/aescanero/subsys/internal/application/metrics"
	"github.com/aescanero/subsys/internal/application/orchestrator"
	"github.com/aescanero/subsys/internal/application/refresh"
	"github.com/aescanero/subsys/internal/domain"
)

// Orchestrator is the part of the orchestrator the API needs
type Orchestrator interface {
	CurrentPhase() domain.Phase
	Completed() bool
	StartErr() error
	Components() []orchestrator.ComponentInfo
	Component(name string) (orchestrator.ComponentInfo, bool)
	LastHealth() domain.Snapshot
	CheckHealth(ctx context.Context) domain.Snapshot
	Broadcast(ctx context.Context, trigger string) (refresh.Result, error)
	Publish(ctx context.Context, eventType domain.EventType, payload any) domain.Event
	Metrics() metrics.Metrics
	EventStats() events.Stats
}

// HealthHistory lists persisted health snapshots, newest first
type HealthHistory interface {
	History(ctx context.Context, limit int) ([]domain.Snapshot, error)
}

// EventLog lists recently published events, newest first
type EventLog interface {
	Recent(eventType domain.EventType, limit int) []domain.Event
}

// StreamEvents reads events persisted to an external stream, newest first
type StreamEvents interface {
	Recent(ctx context.Context, eventType domain.EventType, count int64) ([]domain.Event, error)
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator Orchestrator
	history      HealthHistory
	events       EventLog
	streams      StreamEvents
	logger       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr error
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator Orchestrator
	History      HealthHistory
	Events       EventLog
	// Streams serves /api/v1/events?source=redis. Optional.
	Streams StreamEvents
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		history:      cfg.History,
		events:       cfg.Events,
		streams:      cfg.Streams,
		logger:       logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Probes
	s.router.GET("/health", s.handleLiveness)
	s.router.GET("/ready", s.handleReadiness)
	s.router.GET("/health/deep", s.handleDeepHealth)

	// Metrics
	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/components", s.handleListComponents)
		v1.GET("/components/:name", s.handleGetComponent)
		v1.GET("/health", s.handleLastHealth)
		v1.GET("/health/history", s.handleHealthHistory)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/events", s.handleRecentEvents)
		v1.POST("/events/:type", s.handlePublishTrigger)
		v1.POST("/refresh/:trigger", s.handleRefresh)
	}
}

// SetupWebSocket adds the event stream handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleEventStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/events/ws", wsHandler.HandleEventStream)
	}
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the server address without serving
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		err = fmt.Errorf("failed to start HTTP server: %w", err)
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		return err
	}

	return nil
}

// Err returns the error that stopped the server, if any
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
