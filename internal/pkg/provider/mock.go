package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockClient 测试用的内存服务商实现
type MockClient struct {
	mu sync.Mutex

	name    string
	nextID  int
	voices  map[string][]byte
	deleted []string

	CreateErr     error
	DeleteErr     error
	SynthesizeErr error

	CreateCalls     int
	DeleteCalls     int
	SynthesizeCalls int
}

func NewMockClient(name string) *MockClient {
	return &MockClient{
		name:   name,
		voices: make(map[string][]byte),
	}
}

func (m *MockClient) Name() string {
	return m.name
}

func (m *MockClient) CreateVoice(ctx context.Context, sample []byte, filename, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.nextID++
	remoteID := fmt.Sprintf("%s-voice-%d", m.name, m.nextID)
	m.voices[remoteID] = sample
	return remoteID, nil
}

func (m *MockClient) DeleteVoice(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.voices, remoteID)
	m.deleted = append(m.deleted, remoteID)
	return nil
}

func (m *MockClient) Synthesize(ctx context.Context, remoteID, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SynthesizeCalls++
	if m.SynthesizeErr != nil {
		return nil, m.SynthesizeErr
	}
	if _, ok := m.voices[remoteID]; !ok {
		return nil, ErrRemoteVoiceMissing
	}
	return []byte("audio:" + text), nil
}

// SeedVoice 测试用：直接登记一个远端已存在的声音
func (m *MockClient) SeedVoice(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices[remoteID] = []byte("seed")
}

// ForgetVoice 模拟远端静默回收槽位（漂移）
func (m *MockClient) ForgetVoice(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.voices, remoteID)
}

// HasVoice 判断远端是否存在该声音
func (m *MockClient) HasVoice(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.voices[remoteID]
	return ok
}

// Deleted 已删除的远程 ID 列表
func (m *MockClient) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}
