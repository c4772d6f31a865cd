package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestSlotQueue_EnqueueIdempotent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewSlotQueue(client)
	ctx := context.Background()
	now := time.Now().UTC()

	pos, err := q.Enqueue(ctx, &Entry{VoiceID: 1, UserID: 10, Provider: "elevenlabs"}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = q.Enqueue(ctx, &Entry{VoiceID: 2, UserID: 11, Provider: "elevenlabs"}, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// 重复入队返回现有位置，不产生新条目
	pos, err = q.Enqueue(ctx, &Entry{VoiceID: 1, UserID: 10, Provider: "elevenlabs"}, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	length, err := q.Length(ctx, "elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestSlotQueue_PopReadyFIFO(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewSlotQueue(client)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := int64(1); i <= 3; i++ {
		_, err := q.Enqueue(ctx, &Entry{VoiceID: i, UserID: i * 10, Provider: "elevenlabs"},
			now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	entries, err := q.PopReady(ctx, "elevenlabs", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].VoiceID)
	assert.Equal(t, int64(2), entries[1].VoiceID)
	assert.Equal(t, int64(10), entries[0].UserID)

	length, err := q.Length(ctx, "elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// 取空
	entries, err = q.PopReady(ctx, "elevenlabs", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].VoiceID)

	entries, err = q.PopReady(ctx, "elevenlabs", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSlotQueue_Position(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewSlotQueue(client)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, &Entry{VoiceID: 7, UserID: 1, Provider: "elevenlabs"}, now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &Entry{VoiceID: 8, UserID: 2, Provider: "elevenlabs"}, now.Add(time.Second))
	require.NoError(t, err)

	pos, err := q.Position(ctx, "elevenlabs", 8)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// 不在队列返回 0
	pos, err = q.Position(ctx, "elevenlabs", 99)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestSlotQueue_RemoveIdempotent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewSlotQueue(client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &Entry{VoiceID: 5, UserID: 1, Provider: "elevenlabs"}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, "elevenlabs", 5))
	require.NoError(t, q.Remove(ctx, "elevenlabs", 5))

	length, err := q.Length(ctx, "elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, 0, length)

	enqueued, err := q.IsEnqueued(ctx, "elevenlabs", 5)
	require.NoError(t, err)
	assert.False(t, enqueued)
}

func TestSlotQueue_ProvidersAreIsolated(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewSlotQueue(client)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, &Entry{VoiceID: 1, UserID: 1, Provider: "elevenlabs"}, now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &Entry{VoiceID: 2, UserID: 2, Provider: "cartesia"}, now)
	require.NoError(t, err)

	length, err := q.Length(ctx, "elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	entries, err := q.Peek(ctx, "cartesia", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].VoiceID)
}
