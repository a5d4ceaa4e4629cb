package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/domain"
)

// Listener handles one event.
type Listener func(ctx context.Context, event domain.Event) error

// Stats are cumulative router counters.
type Stats struct {
	Published      uint64 `json:"published"`
	Delivered      uint64 `json:"delivered"`
	ListenerErrors uint64 `json:"listener_errors"`
}

type subscription struct {
	id       uint64
	listener Listener
}

// Router dispatches events to listeners by type.
type Router struct {
	subscribers map[domain.EventType][]subscription
	wildcard    []subscription
	mu          sync.RWMutex

	nextID    atomic.Uint64
	published atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64

	logger  *zap.Logger
	onError func(eventType domain.EventType, err error)
	now     func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for listener failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithErrorHook registers a function called for every listener failure.
func WithErrorHook(fn func(eventType domain.EventType, err error)) Option {
	return func(r *Router) {
		r.onError = fn
	}
}

// NewRouter creates an empty router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		subscribers: make(map[domain.EventType][]subscription),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds listener for eventType. The returned function removes it
// and may be called more than once.
func (r *Router) Subscribe(eventType domain.EventType, listener Listener) (unsubscribe func()) {
	id := r.nextID.Add(1)

	r.mu.Lock()
	r.subscribers[eventType] = append(r.subscribers[eventType], subscription{id: id, listener: listener})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(eventType, id) })
	}
}

// SubscribeAll adds a listener that receives every event. Wildcard listeners
// run after the typed listeners of each event.
func (r *Router) SubscribeAll(listener Listener) (unsubscribe func()) {
	id := r.nextID.Add(1)

	r.mu.Lock()
	r.wildcard = append(r.wildcard, subscription{id: id, listener: listener})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.removeWildcard(id) })
	}
}

// Publish builds an event and delivers it to the current listeners of
// eventType. It returns the published event.
func (r *Router) Publish(ctx context.Context, eventType domain.EventType, payload any) domain.Event {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: r.now(),
		Payload:   payload,
	}
	r.Dispatch(ctx, event)
	return event
}

// Dispatch delivers an already built event.
func (r *Router) Dispatch(ctx context.Context, event domain.Event) {
	r.published.Add(1)

	r.mu.RLock()
	typed := r.subscribers[event.Type]
	listeners := make([]subscription, 0, len(typed)+len(r.wildcard))
	listeners = append(listeners, typed...)
	listeners = append(listeners, r.wildcard...)
	r.mu.RUnlock()

	for _, s := range listeners {
		if err := r.invoke(ctx, s.listener, event); err != nil {
			r.failures.Add(1)
			r.logger.Warn("event listener failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Error(err))
			if r.onError != nil {
				r.onError(event.Type, err)
			}
			continue
		}
		r.delivered.Add(1)
	}
}

// ListenerCount returns the number of typed listeners for eventType.
func (r *Router) ListenerCount(eventType domain.EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[eventType])
}

// Stats returns the cumulative counters.
func (r *Router) Stats() Stats {
	return Stats{
		Published:      r.published.Load(),
		Delivered:      r.delivered.Load(),
		ListenerErrors: r.failures.Load(),
	}
}

// Close removes every listener.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = make(map[domain.EventType][]subscription)
	r.wildcard = nil
	return nil
}

func (r *Router) invoke(ctx context.Context, l Listener, event domain.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panic: %v", p)
		}
	}()
	return l(ctx, event)
}

// remove rebuilds the slice so that snapshots taken by in-flight Dispatch
// calls are never modified.
func (r *Router) remove(eventType domain.EventType, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[eventType] = without(r.subscribers[eventType], id)
	if len(r.subscribers[eventType]) == 0 {
		delete(r.subscribers, eventType)
	}
}

func (r *Router) removeWildcard(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wildcard = without(r.wildcard, id)
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
