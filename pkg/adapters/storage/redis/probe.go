package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/aescanero/subsys/internal/domain"
)

// pinger is implemented by the go-redis client adapter and by test doubles.
type pinger interface {
	PingResult(ctx context.Context) (string, error)
}

type clientPinger struct {
	client redis.UniversalClient
}

func (p clientPinger) PingResult(ctx context.Context) (string, error) {
	return p.client.Ping(ctx).Result()
}

// NewCircuitBreaker returns a breaker that trips after 3 consecutive
// failures and stays open for 30 seconds.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// Probe checks Redis connectivity for the health aggregator. Calls go
// through a circuit breaker so that an unreachable server is reported
// without waiting on a dial timeout every tick.
type Probe struct {
	cb     *gobreaker.CircuitBreaker
	pinger pinger
}

// NewProbe creates a probe for client.
func NewProbe(client redis.UniversalClient, cb *gobreaker.CircuitBreaker) *Probe {
	if cb == nil {
		cb = NewCircuitBreaker("redis")
	}
	return &Probe{cb: cb, pinger: clientPinger{client: client}}
}

// Check sends PING and expects PONG.
func (p *Probe) Check(ctx context.Context) domain.HealthResult {
	start := time.Now()

	_, err := p.cb.Execute(func() (any, error) {
		val, err := p.pinger.PingResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	latency := time.Since(start).Round(time.Microsecond)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return domain.Unhealthy("circuit open")
		}
		return domain.Unhealthy(err.Error())
	}
	return domain.Healthy(fmt.Sprintf("latency %s", latency))
}

// State returns the breaker state.
func (p *Probe) State() gobreaker.State {
	return p.cb.State()
}
