package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/domain"
)

// StreamForwarder appends router events to Redis Streams
type StreamForwarder struct {
	client redis.UniversalClient
	logger *zap.Logger
	maxLen int64
}

// NewStreamForwarder creates a new Redis Streams forwarder. Streams are
// trimmed to approximately maxLen entries; zero disables trimming.
func NewStreamForwarder(client redis.UniversalClient, maxLen int64, logger *zap.Logger) *StreamForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamForwarder{
		client: client,
		logger: logger,
		maxLen: maxLen,
	}
}

// Forward appends event to the stream of its type
func (f *StreamForwarder) Forward(ctx context.Context, event domain.Event) error {
	streamKey := getStreamKey(event.Type)

	args, err := f.xaddArgs(event)
	if err != nil {
		return err
	}

	if _, err := f.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	f.logger.Debug("event forwarded",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("stream", streamKey))

	return nil
}

// Recent returns up to count events of eventType, newest first. A count of
// zero or less returns the whole stream.
func (f *StreamForwarder) Recent(ctx context.Context, eventType domain.EventType, count int64) ([]domain.Event, error) {
	streamKey := getStreamKey(eventType)

	var cmd *redis.XMessageSliceCmd
	if count > 0 {
		cmd = f.client.XRevRangeN(ctx, streamKey, "+", "-", count)
	} else {
		cmd = f.client.XRevRange(ctx, streamKey, "+", "-")
	}
	messages, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return f.decodeMessages(streamKey, messages), nil
}

// decodeMessages decodes stream entries, skipping the ones that are not
// events.
func (f *StreamForwarder) decodeMessages(streamKey string, messages []redis.XMessage) []domain.Event {
	out := make([]domain.Event, 0, len(messages))
	for _, message := range messages {
		event, err := decodeMessage(message)
		if err != nil {
			f.logger.Error("invalid stream message",
				zap.String("stream", streamKey),
				zap.String("message_id", message.ID),
				zap.Error(err))
			continue
		}
		out = append(out, event)
	}
	return out
}

// Close is a no-op; the Redis client is owned by the caller
func (f *StreamForwarder) Close() error {
	return nil
}

func (f *StreamForwarder) xaddArgs(event domain.Event) (*redis.XAddArgs, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: getStreamKey(event.Type),
		Values: map[string]interface{}{
			"id":   event.ID,
			"type": string(event.Type),
			"data": string(data),
		},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}
	return args, nil
}

func decodeMessage(message redis.XMessage) (domain.Event, error) {
	data, ok := message.Values["data"].(string)
	if !ok {
		return domain.Event{}, fmt.Errorf("message %s has no data field", message.ID)
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

// getStreamKey returns the Redis stream key for an event type
func getStreamKey(eventType domain.EventType) string {
	return fmt.Sprintf("subsys:events:%s", eventType)
}
