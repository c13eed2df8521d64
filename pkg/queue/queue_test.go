package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/wikifarm/pkg/events"
)

func newRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestEnqueueDequeue(t *testing.T) {
	rdb := newRedis(t)
	q := NewJobs(rdb)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte(`{"task_id":"a"}`)))
	require.NoError(t, q.Enqueue(ctx, []byte(`{"task_id":"b"}`)))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	payload, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"task_id":"a"}`, string(payload)) // FIFO

	payload, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"task_id":"b"}`, string(payload))
}

func TestPublishCachesLastEvent(t *testing.T) {
	rdb := newRedis(t)
	bus := NewBus(rdb)
	ctx := context.Background()

	evt := events.Progress{Status: events.StateRunning, Phase: events.PhaseDirCopy, Message: "symlink template"}
	require.NoError(t, bus.Publish(ctx, "task-1", evt))

	payload, err := bus.LastEvent(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, payload)

	back, err := events.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestLastEventMissing(t *testing.T) {
	bus := NewBus(newRedis(t))
	payload, err := bus.LastEvent(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSubscribeReceivesPublish(t *testing.T) {
	rdb := newRedis(t)
	bus := NewBus(rdb)
	ctx := context.Background()

	ps, err := bus.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer ps.Close()

	evt := events.Status{Status: events.StateSucceeded, WikiID: 42}
	require.NoError(t, bus.Publish(ctx, "task-1", evt))

	select {
	case msg := <-ps.Channel():
		back, err := events.Unmarshal([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, evt, back)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
