package dto

import "time"

// SlotVoiceView 占用槽位的声音视图
type SlotVoiceView struct {
	VoiceID          int64      `json:"voice_id"`
	UserID           int64      `json:"user_id"`
	Provider         string     `json:"provider"`
	AllocationStatus string     `json:"allocation_status"`
	RemoteVoiceID    string     `json:"remote_voice_id,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	Locked           bool       `json:"locked"`
}

// ProviderSlotStatus 单个服务商的槽位状态
type ProviderSlotStatus struct {
	Provider    string          `json:"provider"`
	SlotLimit   int             `json:"slot_limit"`
	ActiveCount int             `json:"active_count"`
	QueueLength int             `json:"queue_length"`
	Voices      []SlotVoiceView `json:"voices"`
}

// SlotStatusResponse 槽位运维视图
type SlotStatusResponse struct {
	Providers   []ProviderSlotStatus `json:"providers"`
	GeneratedAt time.Time            `json:"generated_at"`
}
