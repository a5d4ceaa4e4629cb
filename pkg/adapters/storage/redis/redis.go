package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/domain"
)

const (
	latestKey  = "subsys:health:latest"
	historyKey = "subsys:health:history"
)

// SnapshotStore persists health snapshots in Redis
type SnapshotStore struct {
	client   redis.UniversalClient
	logger   *zap.Logger
	ttl      time.Duration
	capacity int64
}

// NewSnapshotStore creates a new Redis snapshot store. capacity bounds the
// history list.
func NewSnapshotStore(client redis.UniversalClient, ttl time.Duration, capacity int64, logger *zap.Logger) *SnapshotStore {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		client:   client,
		logger:   logger,
		ttl:      ttl,
		capacity: capacity,
	}
}

// Save stores snapshot as the latest one and prepends it to the history
func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey, data, s.ttl)
		pipe.LPush(ctx, historyKey, data)
		pipe.LTrim(ctx, historyKey, 0, s.capacity-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, historyKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("health snapshot saved",
		zap.String("overall", string(snapshot.Overall)),
		zap.Time("timestamp", snapshot.Timestamp))
	return nil
}

// Latest retrieves the most recent snapshot
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	data, err := s.client.Get(ctx, latestKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Snapshot{}, domain.ErrSnapshotNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// History returns up to limit snapshots, newest first. Entries that cannot be
// decoded are skipped.
func (s *SnapshotStore) History(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	items, err := s.client.LRange(ctx, historyKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	out := make([]domain.Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := decodeSnapshot([]byte(item))
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller
func (s *SnapshotStore) Close() error {
	return nil
}

func encodeSnapshot(snapshot domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}
