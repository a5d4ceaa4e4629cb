package memory

import (
	"context"
	"sync"

	"github.com/aescanero/subsys/internal/domain"
)

// DefaultCapacity is the number of events kept when none is given
const DefaultCapacity = 256

// EventLog keeps the most recent router events in memory and fans them out
// to channel subscribers. Slow subscribers miss events rather than block
// the router.
type EventLog struct {
	mu       sync.RWMutex
	buf      []domain.Event
	next     int
	full     bool
	subs     map[int]chan domain.Event
	nextID   int
	dropped  uint64
	isClosed bool
}

// NewEventLog creates a new in-memory event log
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		buf:  make([]domain.Event, capacity),
		subs: make(map[int]chan domain.Event),
	}
}

// Forward records event and delivers it to every subscriber
func (l *EventLog) Forward(_ context.Context, event domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isClosed {
		return nil
	}

	l.buf[l.next] = event
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}

	for _, ch := range l.subs {
		select {
		case ch <- event:
		default:
			l.dropped++
		}
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty eventType
// matches every event; limit <= 0 returns everything kept.
func (l *EventLog) Recent(eventType domain.EventType, limit int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}

	out := make([]domain.Event, 0, size)
	for i := 1; i <= size; i++ {
		e := l.buf[(l.next-i+len(l.buf))%len(l.buf)]
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe returns a channel receiving every event forwarded after the
// call. The channel is closed when ctx is done or the log is closed.
func (l *EventLog) Subscribe(ctx context.Context, buffer int) <-chan domain.Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Event, buffer)

	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		close(ch)
		return ch
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	// Clean up the subscription on context cancellation
	go func() {
		<-ctx.Done()
		l.unsubscribe(id)
	}()

	return ch
}

// Dropped reports how many deliveries were skipped because a subscriber
// was not keeping up.
func (l *EventLog) Dropped() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// Close closes every subscriber channel. Later forwards are ignored.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isClosed {
		return nil
	}
	l.isClosed = true
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
	return nil
}

func (l *EventLog) unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.subs[id]; ok {
		close(ch)
		delete(l.subs, id)
	}
}
