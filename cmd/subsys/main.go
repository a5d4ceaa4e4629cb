package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/subsys/internal/application/orchestrator"
	"github.com/aescanero/subsys/internal/config"
	"github.com/aescanero/subsys/internal/domain"
	eventsmemory "github.com/aescanero/subsys/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/subsys/pkg/adapters/events/redis"
	"github.com/aescanero/subsys/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/aescanero/subsys/pkg/adapters/storage/redis"
	"github.com/aescanero/subsys/pkg/api/grpc"
	"github.com/aescanero/subsys/pkg/api/http"
	"github.com/aescanero/subsys/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

const eventLogCapacity = 1024

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, level := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting subsystem host",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client; the redis component connects it during Core
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Metrics
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := prometheus.NewCollector(registry)

	// Adapters
	snapshotStore := redisstorage.NewSnapshotStore(
		redisClient,
		cfg.Redis.SnapshotTTL,
		0,
		logger.Named("snapshots"),
	)
	streamForwarder := eventsredis.NewStreamForwarder(redisClient, cfg.Redis.StreamMaxLen, logger.Named("streams"))
	eventLog := eventsmemory.NewEventLog(eventLogCapacity)
	redisProbe := redisstorage.NewProbe(redisClient, redisstorage.NewCircuitBreaker("redis"))

	// Orchestrator
	orchCfg := cfg.OrchestratorConfig()
	orchCfg.Logger = logger.Named("orchestrator")
	orchCfg.MetricsSink = metricsCollector
	orchCfg.Health.Store = snapshotStore
	orch := orchestrator.New(orchCfg)

	// API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orch,
		History:      snapshotStore,
		Events:       eventLog,
		Streams:      streamForwarder,
		Gatherer:     registry,
		Logger:       logger.Named("http"),
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventLog, logger.Named("websocket")))

	grpcServer := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger.Named("grpc"),
	})
	orch.SubscribeAll(grpcServer.HandleEvent)

	if err := registerComponents(orch, logger, components{
		redis:     redisClient,
		snapshots: snapshotStore,
		streams:   streamForwarder,
		eventLog:  eventLog,
		http:      httpServer,
		grpc:      grpcServer,
	}); err != nil {
		logger.Fatal("failed to register components", zap.Error(err))
	}

	if err := orch.AddSharedResourceCheck("redis-probe", true, redisProbe.Check); err != nil {
		logger.Fatal("failed to add shared resource check", zap.Error(err))
	}
	orch.RegisterRefreshable("log-level", newLogLevelRefresher(level, logger).Refresh)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		shutdown(orch, cfg, logger)
		os.Exit(1)
	}

	logger.Info("subsystem host started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("components", len(orch.Components())))

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdown(orch, cfg, logger)
}

type components struct {
	redis     goredis.UniversalClient
	snapshots *redisstorage.SnapshotStore
	streams   *eventsredis.StreamForwarder
	eventLog  *eventsmemory.EventLog
	http      *http.Server
	grpc      *grpc.Server
}

// registerComponents lays out the host's own services across the startup
// phases.
func registerComponents(orch *orchestrator.Orchestrator, logger *zap.Logger, c components) error {
	registrations := []struct {
		name      string
		phase     domain.Phase
		component domain.Component
		deps      []string
	}{
		{
			name:      "redis",
			phase:     domain.PhaseCore,
			component: &redisComponent{client: c.redis, logger: logger.Named("redis")},
		},
		{
			name:  "event-log",
			phase: domain.PhaseServices,
			component: &sinkComponent{
				name:   "event-log",
				sink:   c.eventLog,
				bus:    orch,
				close:  c.eventLog.Close,
				logger: logger,
			},
		},
		{
			name:  "event-stream",
			phase: domain.PhaseServices,
			component: &sinkComponent{
				name:   "event-stream",
				sink:   c.streams,
				bus:    orch,
				close:  c.streams.Close,
				logger: logger,
			},
			deps: []string{"redis"},
		},
		{
			name:      "snapshot-store",
			phase:     domain.PhaseServices,
			component: &storeComponent{store: c.snapshots, logger: logger},
			deps:      []string{"redis"},
		},
		{
			name:      "grpc-api",
			phase:     domain.PhaseIntegration,
			component: &serverComponent{name: "grpc", srv: c.grpc, logger: logger},
		},
		{
			name:      "http-api",
			phase:     domain.PhaseIntegration,
			component: &serverComponent{name: "http", srv: c.http, logger: logger},
			deps:      []string{"event-log", "snapshot-store"},
		},
	}

	for _, r := range registrations {
		if err := orch.Register(r.name, r.phase, r.component, r.deps...); err != nil {
			return fmt.Errorf("register %s: %w", r.name, err)
		}
	}

	logger.Debug("components registered", zap.Int("count", len(registrations)))
	return nil
}

func shutdown(orch *orchestrator.Orchestrator, cfg *config.Config, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	orch.Stop(shutdownCtx)
	logger.Info("subsystem host shut down complete")
}

// initLogger initializes the logger based on log level. The returned level
// can be changed at runtime.
func initLogger(level string) (*zap.Logger, zap.AtomicLevel) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	config := zap.NewProductionConfig()
	config.Level = atomicLevel
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger, atomicLevel
}
