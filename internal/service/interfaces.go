package service

import (
	"context"
	"time"

	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
)

// BlobStore 对象存储抽象，由 oss.Client 实现；测试注入内存实现
type BlobStore interface {
	Put(objectKey string, data []byte, contentType string) error
	Get(objectKey string) ([]byte, error)
	Delete(objectKey string) error
	GetSignedURL(objectKey string, expireSeconds ...int64) (string, error)
}

// TaskDispatcher 后台任务投递，由 queue.TaskQueue 实现
type TaskDispatcher interface {
	Push(ctx context.Context, msg *queue.TaskMessage) error
	PushDelayed(ctx context.Context, msg *queue.TaskMessage, delay time.Duration, now time.Time) error
}
