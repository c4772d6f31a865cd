package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
)

var (
	// ErrRemoteVoiceMissing 远程槽位被服务商回收（漂移）
	ErrRemoteVoiceMissing = errors.New("远程声音不存在")
	// ErrUnknownProvider 未配置的服务商
	ErrUnknownProvider = errors.New("未知的语音服务商")
)

// APIError 服务商接口错误
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable 429 与 5xx 可重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable 判断服务商调用错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteVoiceMissing) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// Client 远程语音槽位适配器。
// 调用方在 CreateVoice 前必须检查 remote_voice_id，保证幂等。
type Client interface {
	// CreateVoice 用样本克隆声音，返回远程 ID
	CreateVoice(ctx context.Context, sample []byte, filename, name string) (string, error)
	// DeleteVoice 删除远程声音；远端已不存在视为成功
	DeleteVoice(ctx context.Context, remoteID string) error
	// Synthesize 用远程声音合成音频；槽位被回收时返回 ErrRemoteVoiceMissing
	Synthesize(ctx context.Context, remoteID, text string) ([]byte, error)
	// Name 服务商标识
	Name() string
}

// Registry 按名称持有各服务商客户端
type Registry struct {
	clients map[string]Client
}

// NewRegistry 按配置构建服务商客户端集合
func NewRegistry(cfgs []config.ProviderConfig, timeout time.Duration) *Registry {
	clients := make(map[string]Client)
	for _, cfg := range cfgs {
		switch cfg.Name {
		case "elevenlabs":
			clients[cfg.Name] = NewElevenLabsClient(cfg, timeout)
		case "cartesia":
			clients[cfg.Name] = NewCartesiaClient(cfg, timeout)
		}
	}
	return &Registry{clients: clients}
}

// NewRegistryWithClients 测试用：直接注入客户端
func NewRegistryWithClients(clients map[string]Client) *Registry {
	return &Registry{clients: clients}
}

// Get 按名称取客户端
func (r *Registry) Get(name string) (Client, error) {
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return client, nil
}

// Names 已配置的服务商名称
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
