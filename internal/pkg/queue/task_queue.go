package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 任务类型
const (
	TaskAllocate     = "allocate"
	TaskSynthesize   = "synthesize"
	TaskProcessQueue = "process_queue"
	TaskReclaimIdle  = "reclaim_idle"
	TaskExpireLots   = "expire_lots"
)

// TaskMessage 投递给后台 worker 的类型化任务
type TaskMessage struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	VoiceID  int64  `json:"voice_id,omitempty"`
	JobID    int64  `json:"job_id,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attempt  int    `json:"attempt"`
}

// TaskQueue Redis list 任务流，附带一个 ZSET 存放延迟任务
type TaskQueue struct {
	client    *redis.Client
	queueName string
}

func NewTaskQueue(client *redis.Client, queueName string) *TaskQueue {
	return &TaskQueue{
		client:    client,
		queueName: queueName,
	}
}

func (q *TaskQueue) scheduledKey() string {
	return q.queueName + ":scheduled"
}

// Push 立即投递任务
func (q *TaskQueue) Push(ctx context.Context, msg *TaskMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return q.client.LPush(ctx, q.queueName, data).Err()
}

// PushDelayed 延迟投递任务（重试退避用）
func (q *TaskQueue) PushDelayed(ctx context.Context, msg *TaskMessage, delay time.Duration, now time.Time) error {
	if delay <= 0 {
		return q.Push(ctx, msg)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	score := float64(now.Add(delay).Unix())
	return q.client.ZAdd(ctx, q.scheduledKey(), &redis.Z{Score: score, Member: data}).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (*TaskMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg TaskMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &msg, nil
}

// MoveDue 把到期的延迟任务搬进主队列，返回搬运数量
func (q *TaskQueue) MoveDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.scheduledKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.scheduledKey(), member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue // 其他进程已搬走
		}
		if err := q.client.LPush(ctx, q.queueName, member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Length 主队列长度
func (q *TaskQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
