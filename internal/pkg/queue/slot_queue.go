package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// SlotQueue 基于 Redis 的持久化槽位等待队列。
// 每个服务商一个 ZSET（score = 入队时间）加一个 HASH 存放请求详情。
// 消费侧按 allocation_status 容忍重复投递。
type SlotQueue struct {
	client *redis.Client
}

// Entry 一条等待分配的请求
type Entry struct {
	VoiceID    int64     `json:"voice_id"`
	UserID     int64     `json:"user_id"`
	Provider   string    `json:"provider"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	Score      float64   `json:"score"`
}

func NewSlotQueue(client *redis.Client) *SlotQueue {
	return &SlotQueue{client: client}
}

func (q *SlotQueue) queueKey(provider string) string {
	return fmt.Sprintf("voice_slots:%s:queue", provider)
}

func (q *SlotQueue) detailsKey(provider string) string {
	return fmt.Sprintf("voice_slots:%s:details", provider)
}

// Enqueue 入队并返回 1 起始的队列位置。
// 同一声音重复入队不产生新条目，直接返回当前位置。
func (q *SlotQueue) Enqueue(ctx context.Context, entry *Entry, now time.Time) (int, error) {
	voiceKey := strconv.FormatInt(entry.VoiceID, 10)

	exists, err := q.client.HExists(ctx, q.detailsKey(entry.Provider), voiceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check queue membership: %w", err)
	}
	if !exists {
		entry.EnqueuedAt = now
		entry.Score = float64(now.UnixNano()) / float64(time.Second)
		data, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal queue entry: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.detailsKey(entry.Provider), voiceKey, data)
		pipe.ZAdd(ctx, q.queueKey(entry.Provider), &redis.Z{Score: entry.Score, Member: voiceKey})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to enqueue voice %d: %w", entry.VoiceID, err)
		}
	}

	pos, err := q.Position(ctx, entry.Provider, entry.VoiceID)
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// Peek 查看队首的 n 条请求，不出队
func (q *SlotQueue) Peek(ctx context.Context, provider string, n int) ([]*Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	keys, err := q.client.ZRange(ctx, q.queueKey(provider), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return q.loadEntries(ctx, provider, keys)
}

// PopReady 按先来先服务取出至多 capacity 条请求
func (q *SlotQueue) PopReady(ctx context.Context, provider string, capacity int) ([]*Entry, error) {
	if capacity <= 0 {
		return nil, nil
	}

	keys, err := q.client.ZRange(ctx, q.queueKey(provider), 0, int64(capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	var entries []*Entry
	for _, voiceKey := range keys {
		pipe := q.client.TxPipeline()
		remCmd := pipe.ZRem(ctx, q.queueKey(provider), voiceKey)
		getCmd := pipe.HGet(ctx, q.detailsKey(provider), voiceKey)
		pipe.HDel(ctx, q.detailsKey(provider), voiceKey)
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return entries, fmt.Errorf("failed to pop queue entry: %w", err)
		}

		// 另一个消费者先取走了这条
		if remCmd.Val() == 0 {
			continue
		}

		data, err := getCmd.Result()
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Remove 幂等地移除一条请求
func (q *SlotQueue) Remove(ctx context.Context, provider string, voiceID int64) error {
	voiceKey := strconv.FormatInt(voiceID, 10)
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.queueKey(provider), voiceKey)
	pipe.HDel(ctx, q.detailsKey(provider), voiceKey)
	_, err := pipe.Exec(ctx)
	return err
}

// Length 队列长度
func (q *SlotQueue) Length(ctx context.Context, provider string) (int, error) {
	n, err := q.client.ZCard(ctx, q.queueKey(provider)).Result()
	return int(n), err
}

// Position 返回 1 起始的队列位置；不在队列中返回 0
func (q *SlotQueue) Position(ctx context.Context, provider string, voiceID int64) (int, error) {
	rank, err := q.client.ZRank(ctx, q.queueKey(provider), strconv.FormatInt(voiceID, 10)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

// IsEnqueued 判断声音是否已在队列中
func (q *SlotQueue) IsEnqueued(ctx context.Context, provider string, voiceID int64) (bool, error) {
	return q.client.HExists(ctx, q.detailsKey(provider), strconv.FormatInt(voiceID, 10)).Result()
}

func (q *SlotQueue) loadEntries(ctx context.Context, provider string, keys []string) ([]*Entry, error) {
	var entries []*Entry
	for _, voiceKey := range keys {
		data, err := q.client.HGet(ctx, q.detailsKey(provider), voiceKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return entries, err
		}
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
