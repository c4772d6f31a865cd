package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
)

func TestService_StartStop(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	tasks := queue.NewTaskQueue(client, "cron_test_tasks")
	svc := NewService(tasks, []string{"elevenlabs"}, cfg)

	svc.Start()
	svc.Stop()
}

func TestService_MoverDrainsScheduledTasks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	tasks := queue.NewTaskQueue(client, "cron_test_tasks")
	ctx := context.Background()

	// 已到期的延迟任务
	require.NoError(t, tasks.PushDelayed(ctx, &queue.TaskMessage{Type: queue.TaskProcessQueue},
		time.Millisecond, time.Now().UTC().Add(-time.Minute)))

	svc := NewService(tasks, []string{"elevenlabs"}, cfg)
	svc.Start()
	defer svc.Stop()

	// 搬运节拍每秒一次
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		length, err := tasks.Length(ctx)
		require.NoError(t, err)
		if length > 0 {
			msg, err := tasks.Pop(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, queue.TaskProcessQueue, msg.Type)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("scheduled task was not moved into the main queue")
}
