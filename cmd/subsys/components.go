package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/subsys/internal/application/events"
	"github.com/aescanero/subsys/internal/domain"
)

const redisPingInterval = 500 * time.Millisecond

// redisComponent owns the shared Redis client
type redisComponent struct {
	client goredis.UniversalClient
	logger *zap.Logger
}

// Initialize pings Redis until it answers or ctx is done
func (r *redisComponent) Initialize(ctx context.Context) error {
	ticker := time.NewTicker(redisPingInterval)
	defer ticker.Stop()

	for {
		err := r.client.Ping(ctx).Err()
		if err == nil {
			r.logger.Info("connected to Redis")
			return nil
		}
		r.logger.Warn("Redis not reachable yet", zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to Redis: %w", errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}

// HealthCheck reports connection pool usage. Reachability is covered by the
// shared redis probe.
func (r *redisComponent) HealthCheck(context.Context) domain.HealthResult {
	stats := r.client.PoolStats()
	details := fmt.Sprintf("pool total=%d idle=%d timeouts=%d", stats.TotalConns, stats.IdleConns, stats.Timeouts)
	if stats.TotalConns == 0 {
		return domain.Unhealthy(details)
	}
	return domain.Healthy(details)
}

func (r *redisComponent) Destroy(context.Context) {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Redis close error", zap.Error(err))
	}
}

// forwarder receives every published event
type forwarder interface {
	Forward(ctx context.Context, event domain.Event) error
}

// subscriber attaches a listener to every event type
type subscriber interface {
	SubscribeAll(listener events.Listener) (unsubscribe func())
}

// sinkComponent attaches a forwarder to the event router while it is up
type sinkComponent struct {
	name   string
	sink   forwarder
	bus    subscriber
	close  func() error
	logger *zap.Logger

	mu          sync.Mutex
	unsubscribe func()
	failures    atomic.Int64
	forwarded   atomic.Int64
}

func (s *sinkComponent) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubscribe = s.bus.SubscribeAll(func(ctx context.Context, e domain.Event) error {
		if err := s.sink.Forward(ctx, e); err != nil {
			s.failures.Add(1)
			return err
		}
		s.failures.Store(0)
		s.forwarded.Add(1)
		return nil
	})
	return nil
}

// HealthCheck fails while forwards keep failing
func (s *sinkComponent) HealthCheck(context.Context) domain.HealthResult {
	if n := s.failures.Load(); n > 0 {
		return domain.Unhealthy(fmt.Sprintf("%d consecutive forward failures", n))
	}
	return domain.Healthy(fmt.Sprintf("forwarded=%d", s.forwarded.Load()))
}

func (s *sinkComponent) Destroy(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.close != nil {
		if err := s.close(); err != nil {
			s.logger.Error("event sink close error", zap.String("sink", s.name), zap.Error(err))
		}
	}
}

// snapshotReader is the read side of a health snapshot store
type snapshotReader interface {
	Latest(ctx context.Context) (domain.Snapshot, error)
}

// storeComponent verifies that the health snapshot store is readable
type storeComponent struct {
	store  snapshotReader
	logger *zap.Logger
}

func (s *storeComponent) Initialize(ctx context.Context) error {
	_, err := s.store.Latest(ctx)
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}
	return nil
}

func (s *storeComponent) HealthCheck(ctx context.Context) domain.HealthResult {
	latest, err := s.store.Latest(ctx)
	switch {
	case errors.Is(err, domain.ErrSnapshotNotFound):
		return domain.Healthy("no snapshot yet")
	case err != nil:
		return domain.Unhealthy(err.Error())
	}
	return domain.Healthy(fmt.Sprintf("latest %s at %s", latest.Overall, latest.Timestamp.Format(time.RFC3339)))
}

func (s *storeComponent) Destroy(context.Context) {}

// server is an API server run by serverComponent
type server interface {
	Listen() error
	Start() error
	Shutdown(ctx context.Context) error
}

// serverComponent binds an API server during Initialize and serves it in
// the background until Destroy.
type serverComponent struct {
	name   string
	srv    server
	logger *zap.Logger

	serveErr atomic.Pointer[error]
	done     chan struct{}
}

func (s *serverComponent) Initialize(context.Context) error {
	if err := s.srv.Listen(); err != nil {
		return err
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Start(); err != nil {
			s.logger.Error("server failed", zap.String("server", s.name), zap.Error(err))
			s.serveErr.Store(&err)
		}
	}()
	return nil
}

func (s *serverComponent) HealthCheck(context.Context) domain.HealthResult {
	if errp := s.serveErr.Load(); errp != nil {
		return domain.Unhealthy((*errp).Error())
	}
	return domain.Healthy("")
}

func (s *serverComponent) Destroy(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown error", zap.String("server", s.name), zap.Error(err))
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
}

// logLevelRefresher re-reads LOG_LEVEL when settings change
type logLevelRefresher struct {
	level  zap.AtomicLevel
	lookup func(string) (string, bool)
	logger *zap.Logger
}

func newLogLevelRefresher(level zap.AtomicLevel, logger *zap.Logger) *logLevelRefresher {
	return &logLevelRefresher{level: level, lookup: os.LookupEnv, logger: logger}
}

// Refresh is a refresh callback. Only settings triggers are handled.
func (r *logLevelRefresher) Refresh(_ context.Context, trigger string) error {
	if trigger != string(domain.EventSettingsChanged) {
		return nil
	}

	raw, ok := r.lookup("LOG_LEVEL")
	if !ok {
		return nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
	}
	if lvl != r.level.Level() {
		r.level.SetLevel(lvl)
		r.logger.Info("log level changed", zap.String("level", lvl.String()))
	}
	return nil
}
