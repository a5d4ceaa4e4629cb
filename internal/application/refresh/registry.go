package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/subsys/internal/domain"
)

// Callback refreshes one registered key for trigger.
type Callback func(ctx context.Context, trigger string) error

// Resolver looks up the component behind a key. It is used for keys that were
// registered without a callback.
type Resolver func(key string) (domain.Component, bool)

// Result summarizes one broadcast.
type Result struct {
	Trigger      string           `json:"trigger"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	SkippedCount int              `json:"skipped_count"`
	Errors       map[string]error `json:"-"`
	Duration     time.Duration    `json:"duration"`
}

// OK reports whether no key failed.
func (r Result) OK() bool {
	return r.FailureCount == 0
}

// ErrorStrings renders Errors for serialization.
func (r Result) ErrorStrings() map[string]string {
	out := make(map[string]string, len(r.Errors))
	for k, err := range r.Errors {
		out[k] = err.Error()
	}
	return out
}

// Registry is the set of keys interested in refresh triggers.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback

	resolver Resolver
	limit    int
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver sets the fallback lookup for keys without a callback.
func WithResolver(resolver Resolver) Option {
	return func(r *Registry) { r.resolver = resolver }
}

// WithConcurrency bounds the number of callbacks running at once. Zero or
// negative means unbounded.
func WithConcurrency(limit int) Option {
	return func(r *Registry) { r.limit = limit }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		callbacks: make(map[string]Callback),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds key, replacing its callback if it is already registered. cb
// may be nil.
func (r *Registry) Register(key string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[key] = cb
}

// Unregister removes key. Unknown keys are ignored.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, key)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}

type outcome int

const (
	succeeded outcome = iota
	failed
	skipped
)

// Broadcast refreshes every registered key concurrently and waits for all of
// them. Failures are collected per key and never stop the other keys.
func (r *Registry) Broadcast(ctx context.Context, trigger string) Result {
	start := time.Now()

	r.mu.RLock()
	targets := make(map[string]Callback, len(r.callbacks))
	for k, cb := range r.callbacks {
		targets[k] = cb
	}
	r.mu.RUnlock()

	result := Result{Trigger: trigger, Errors: make(map[string]error)}
	if len(targets) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}

	for key, cb := range targets {
		key, cb := key, cb
		g.Go(func() error {
			res, err := r.refreshOne(ctx, key, cb, trigger)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case succeeded:
				result.SuccessCount++
			case skipped:
				result.SkippedCount++
			case failed:
				result.FailureCount++
				result.Errors[key] = err
				r.logger.Warn("refresh failed",
					zap.String("component", key),
					zap.String("trigger", trigger),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	return result
}

func (r *Registry) refreshOne(ctx context.Context, key string, cb Callback, trigger string) (res outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = failed, fmt.Errorf("refresh panic: %v", p)
		}
	}()

	if cb != nil {
		if err := cb(ctx, trigger); err != nil {
			return failed, err
		}
		return succeeded, nil
	}

	if r.resolver == nil {
		return skipped, nil
	}
	component, ok := r.resolver(key)
	if !ok {
		return skipped, nil
	}
	refresher, ok := component.(domain.Refresher)
	if !ok {
		return skipped, nil
	}
	if err := refresher.Refresh(ctx, trigger); err != nil {
		return failed, err
	}
	return succeeded, nil
}
