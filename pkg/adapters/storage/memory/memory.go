package memory

import (
	"context"
	"sync"

	"github.com/aescanero/subsys/internal/domain"
)

// DefaultCapacity is the number of snapshots kept when none is given.
const DefaultCapacity = 100

// SnapshotStore keeps the most recent health snapshots in memory.
type SnapshotStore struct {
	snapshots []domain.Snapshot // oldest first
	capacity  int
	mu        sync.RWMutex
}

// NewSnapshotStore creates a store holding at most capacity snapshots.
func NewSnapshotStore(capacity int) *SnapshotStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SnapshotStore{
		snapshots: make([]domain.Snapshot, 0, capacity),
		capacity:  capacity,
	}
}

// Save appends a snapshot, evicting the oldest one when full
func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == s.capacity {
		copy(s.snapshots, s.snapshots[1:])
		s.snapshots = s.snapshots[:len(s.snapshots)-1]
	}
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

// Latest returns the most recent snapshot
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

// History returns up to limit snapshots, newest first. A non-positive limit
// returns everything.
func (s *SnapshotStore) History(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.snapshots)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Snapshot, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.snapshots[i])
	}
	return out, nil
}

// Close clears the store
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = s.snapshots[:0]
	return nil
}
