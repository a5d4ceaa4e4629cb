package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aescanero/subsys/internal/domain"
)

// ServiceName is the health service name reported next to the overall ""
// service.
const ServiceName = "subsys.Orchestrator"

// Server represents the gRPC API server
type Server struct {
	server *grpc.Server
	health *health.Server
	port   int
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener

	// completed is set between orchestrator.completed and
	// orchestrator.stopped; health changes outside it are ignored.
	completed atomic.Bool
}

// Config holds gRPC server configuration
type Config struct {
	Port   int
	Logger *zap.Logger
}

// NewServer creates a new gRPC server exposing the standard health service.
// Both services report NOT_SERVING until startup completes.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server: grpcServer,
		health: healthServer,
		port:   cfg.Port,
		logger: logger,
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// Listen binds the server port without serving
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	return nil
}

// Start starts the gRPC server. It blocks until the server stops.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("starting gRPC server", zap.String("addr", listener.Addr().String()))

	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// HandleEvent keeps the health service in line with orchestrator events.
// Its signature matches an event router listener. Health changes only affect
// the serving status once startup has completed.
func (s *Server) HandleEvent(_ context.Context, event domain.Event) error {
	switch event.Type {
	case domain.EventOrchestratorCompleted:
		s.completed.Store(true)
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	case domain.EventHealthChanged:
		payload, ok := domain.PayloadAs[domain.HealthChangedPayload](event)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
		}
		if !s.completed.Load() {
			s.logger.Debug("health change ignored before startup completed",
				zap.String("overall", string(payload.Snapshot.Overall)))
			return nil
		}
		s.SetOverall(payload.Snapshot.Overall)
	case domain.EventOrchestratorStopped:
		s.completed.Store(false)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return nil
}

// SetOverall maps an overall health status onto the serving status. Only
// critical health stops serving.
func (s *Server) SetOverall(overall domain.OverallStatus) {
	status := healthpb.HealthCheckResponse_SERVING
	if overall == domain.OverallCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.setStatus(status)
	s.logger.Debug("gRPC health status updated",
		zap.String("overall", string(overall)),
		zap.String("status", status.String()))
}

// Check queries the health service in process
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown gracefully shuts down the server. Pending RPCs are cut off when
// ctx is done first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
