package dto

import "time"

// VoiceInfo 声音详情视图
type VoiceInfo struct {
	VoiceID          int64      `json:"voice_id"`
	Name             string     `json:"name,omitempty"`
	Provider         string     `json:"provider"`
	Status           string     `json:"status"`
	RemoteVoiceID    string     `json:"remote_voice_id,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	AllocatedAt      *time.Time `json:"allocated_at,omitempty"`
	QueuePosition    int        `json:"queue_position,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
