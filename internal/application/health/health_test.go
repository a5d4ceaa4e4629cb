package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/subsys/internal/domain"
)

func outcomes(total, failing int) []Outcome {
	out := make([]Outcome, total)
	for i := range out {
		out[i] = Outcome{Name: fmt.Sprintf("c%d", i), Result: domain.Healthy("")}
		if i < failing {
			out[i].Result = domain.Unhealthy("down")
		}
	}
	return out
}

func TestPolicy_Score(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		outcomes []Outcome
		policy   Policy
		want     domain.OverallStatus
	}{
		{"no checks", nil, p, domain.OverallExcellent},
		{"all pass", outcomes(10, 0), p, domain.OverallExcellent},
		{"one in ten fails", outcomes(10, 1), p, domain.OverallGood},
		{"two in ten fails", outcomes(10, 2), p, domain.OverallGood},
		{"three in ten fails", outcomes(10, 3), p, domain.OverallDegraded},
		{"five in ten fails", outcomes(10, 5), p, domain.OverallDegraded},
		{"six in ten fails", outcomes(10, 6), p, domain.OverallCritical},
		{
			name:     "listed critical component fails",
			outcomes: outcomes(10, 1),
			policy:   Policy{GoodMaxFailRatio: 0.2, CriticalFailRatio: 0.5, CriticalComponents: []string{"c0"}},
			want:     domain.OverallCritical,
		},
		{
			name: "critical tagged check fails",
			outcomes: append(outcomes(9, 0), Outcome{
				Name: "redis", Critical: true, Result: domain.Unhealthy("unreachable"),
			}),
			policy: p,
			want:   domain.OverallDegraded,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.policy.Score(tc.outcomes))
		})
	}
}

func TestPolicy_Recommendations(t *testing.T) {
	p := DefaultPolicy()
	outs := []Outcome{
		{Name: "b", Result: domain.Unhealthy("")},
		{Name: "a", Result: domain.Unhealthy("disk full")},
		{Name: "c", Result: domain.Healthy("")},
	}

	recs := p.Recommendations(domain.OverallDegraded, outs)
	require.Len(t, recs, 3)
	assert.Equal(t, "check a: disk full", recs[0])
	assert.Equal(t, "check b is failing", recs[1])

	assert.Empty(t, p.Recommendations(domain.OverallExcellent, outcomes(3, 0)))
}

func staticChecks(results map[string]CheckFunc) TargetsFunc {
	return func() []Check {
		checks := make([]Check, 0, len(results))
		for name, fn := range results {
			checks = append(checks, Check{Name: name, Fn: fn})
		}
		return checks
	}
}

func ok(context.Context) domain.HealthResult { return domain.Healthy("") }

func TestTick_Isolation(t *testing.T) {
	a := NewAggregator(staticChecks(map[string]CheckFunc{
		"a": ok,
		"b": ok,
		"c": ok,
		"d": ok,
		"panics": func(context.Context) domain.HealthResult {
			panic(errors.New("nil pointer"))
		},
		"slow": func(context.Context) domain.HealthResult {
			time.Sleep(time.Second)
			return domain.Healthy("")
		},
	}), Config{CheckTimeout: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})

	start := time.Now()
	snap := a.Tick(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Len(t, snap.PerComponent, 6)
	assert.True(t, snap.PerComponent["a"].OK)
	assert.True(t, snap.PerComponent["d"].OK)
	assert.False(t, snap.PerComponent["panics"].OK)
	assert.Contains(t, snap.PerComponent["panics"].Details, "nil pointer")
	assert.False(t, snap.PerComponent["slow"].OK)
	assert.Contains(t, snap.PerComponent["slow"].Details, "timed out")
	assert.Equal(t, 2, snap.Failed())
	assert.Equal(t, domain.OverallDegraded, snap.Overall)

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, snap.Timestamp, last.Timestamp)
}

func TestTick_FailRatioThresholds(t *testing.T) {
	var failing atomic.Int32
	targets := func() []Check {
		checks := make([]Check, 10)
		for i := range checks {
			i := i
			checks[i] = Check{Name: fmt.Sprintf("c%d", i), Fn: func(context.Context) domain.HealthResult {
				if int32(i) < failing.Load() {
					return domain.Unhealthy("down")
				}
				return domain.Healthy("")
			}}
		}
		return checks
	}
	a := NewAggregator(targets, Config{})

	failing.Store(1)
	assert.Equal(t, domain.OverallGood, a.Tick(context.Background()).Overall)

	failing.Store(6)
	assert.Equal(t, domain.OverallCritical, a.Tick(context.Background()).Overall)
}

func TestNewAggregator_DefaultRatiosKeepCriticalComponents(t *testing.T) {
	checks := make(map[string]CheckFunc, 10)
	for i := 0; i < 9; i++ {
		checks[fmt.Sprintf("c%d", i)] = ok
	}
	checks["db"] = func(context.Context) domain.HealthResult { return domain.Unhealthy("connection refused") }

	a := NewAggregator(staticChecks(checks), Config{
		Policy: Policy{CriticalComponents: []string{"db"}},
		Logger: zaptest.NewLogger(t),
	})

	assert.Equal(t, DefaultPolicy().GoodMaxFailRatio, a.cfg.Policy.GoodMaxFailRatio)
	assert.Equal(t, DefaultPolicy().CriticalFailRatio, a.cfg.Policy.CriticalFailRatio)
	assert.Equal(t, []string{"db"}, a.cfg.Policy.CriticalComponents)
	assert.Equal(t, domain.OverallCritical, a.Tick(context.Background()).Overall)
}

func TestNewAggregator_DefaultsOneRatio(t *testing.T) {
	a := NewAggregator(staticChecks(map[string]CheckFunc{"a": ok}), Config{
		Policy: Policy{CriticalFailRatio: 0.8},
	})

	assert.Equal(t, DefaultPolicy().GoodMaxFailRatio, a.cfg.Policy.GoodMaxFailRatio)
	assert.Equal(t, 0.8, a.cfg.Policy.CriticalFailRatio)
}

func TestTick_BoundedFanOut(t *testing.T) {
	var running, peak atomic.Int32
	check := func(context.Context) domain.HealthResult {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return domain.Healthy("")
	}
	targets := func() []Check {
		checks := make([]Check, 50)
		for i := range checks {
			checks[i] = Check{Name: fmt.Sprintf("c%d", i), Fn: check}
		}
		return checks
	}

	a := NewAggregator(targets, Config{MaxConcurrency: 4})
	snap := a.Tick(context.Background())

	assert.Len(t, snap.PerComponent, 50)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestTick_OnChange(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	targets := staticChecks(map[string]CheckFunc{
		"a": func(context.Context) domain.HealthResult {
			if healthy.Load() {
				return domain.Healthy("")
			}
			return domain.Unhealthy("down")
		},
	})

	t.Run("only on change", func(t *testing.T) {
		var calls []domain.OverallStatus
		a := NewAggregator(targets, Config{
			NotifyOnChangeOnly: true,
			OnChange: func(prev domain.OverallStatus, s domain.Snapshot) {
				calls = append(calls, prev, s.Overall)
			},
		})

		healthy.Store(true)
		a.Tick(context.Background())
		a.Tick(context.Background())
		healthy.Store(false)
		a.Tick(context.Background())

		assert.Equal(t, []domain.OverallStatus{
			"", domain.OverallExcellent,
			domain.OverallExcellent, domain.OverallCritical,
		}, calls)
	})

	t.Run("unconditional", func(t *testing.T) {
		calls := 0
		a := NewAggregator(targets, Config{
			OnChange: func(domain.OverallStatus, domain.Snapshot) { calls++ },
		})
		a.Tick(context.Background())
		a.Tick(context.Background())
		assert.Equal(t, 2, calls)
	})
}

type memStore struct {
	mu    sync.Mutex
	saved []domain.Snapshot
	err   error
}

func (m *memStore) Save(_ context.Context, s domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return m.err
}

func TestTick_PersistsSnapshot(t *testing.T) {
	store := &memStore{err: errors.New("redis down")}
	a := NewAggregator(staticChecks(map[string]CheckFunc{"a": ok}), Config{Store: store})

	snap := a.Tick(context.Background())
	require.Len(t, store.saved, 1)
	assert.Equal(t, snap.Overall, store.saved[0].Overall)
}

func TestStartStop(t *testing.T) {
	var ticks atomic.Int32
	targets := func() []Check {
		ticks.Add(1)
		return nil
	}
	a := NewAggregator(targets, Config{Interval: 10 * time.Millisecond})

	_, ok := a.Last()
	assert.False(t, ok)

	a.Start(context.Background())
	a.Start(context.Background())
	assert.True(t, a.Running())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	a.Stop()
	a.Stop()
	assert.False(t, a.Running())

	stopped := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())

	// The aggregator can be restarted.
	a.Start(context.Background())
	require.Eventually(t, func() bool { return ticks.Load() > stopped }, time.Second, 5*time.Millisecond)
	a.Stop()
}
