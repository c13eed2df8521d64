package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pubwiki/wikifarm/pkg/events"
	"github.com/pubwiki/wikifarm/pkg/log"
)

// Bus publishes task events to per-task channels and keeps a bounded-TTL
// snapshot of the most recent event for late subscribers.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates an event bus over an existing Redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish sends the event on the task channel and refreshes the last-event
// cache. The cache write is best-effort; its failure is logged, never
// returned.
func (b *Bus) Publish(ctx context.Context, taskID string, e events.Event) error {
	payload, err := events.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, events.ChannelKey(taskID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	ttl := time.Duration(events.LastEventTTLSeconds) * time.Second
	if err := b.rdb.Set(ctx, events.LastKey(taskID), payload, ttl).Err(); err != nil {
		log.Logger.Warn().Err(err).Str("task_id", taskID).Msg("last-event cache write failed")
	}
	return nil
}

// Subscribe opens a dedicated pub/sub subscription to the task channel and
// confirms it with the server before returning, so no message published
// after the return can be missed.
func (b *Bus) Subscribe(ctx context.Context, taskID string) (*redis.PubSub, error) {
	ps := b.rdb.Subscribe(ctx, events.ChannelKey(taskID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return ps, nil
}

// LastEvent fetches the cached most-recent event payload for a task.
// Returns (nil, nil) when no snapshot exists.
func (b *Bus) LastEvent(ctx context.Context, taskID string) ([]byte, error) {
	payload, err := b.rdb.Get(ctx, events.LastKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last event: %w", err)
	}
	return payload, nil
}
