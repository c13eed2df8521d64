package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pubwiki/wikifarm/pkg/events"
)

// dequeueTimeout bounds each blocking pop so the worker can observe its
// stop channel between pops.
const dequeueTimeout = 5 * time.Second

// Jobs is the shared provisioning job queue.
type Jobs struct {
	rdb *redis.Client
}

// NewJobs creates a job queue over an existing Redis client.
func NewJobs(rdb *redis.Client) *Jobs {
	return &Jobs{rdb: rdb}
}

// Enqueue pushes a job payload onto the right end of the shared list.
func (q *Jobs) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.rdb.RPush(ctx, events.QueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks on a left-pop for up to five seconds. A timeout returns
// (nil, nil) so the caller's loop can check for shutdown and pop again.
func (q *Jobs) Dequeue(ctx context.Context) ([]byte, error) {
	res, err := q.rdb.BLPop(ctx, dequeueTimeout, events.QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

// Len reports the queue depth.
func (q *Jobs) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, events.QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
