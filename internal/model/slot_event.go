package model

import (
	"time"
)

// 槽位事件类型
const (
	SlotEventQueued              = "queued"
	SlotEventAllocationStarted   = "allocation_started"
	SlotEventAllocationCompleted = "allocation_completed"
	SlotEventAllocationFailed    = "allocation_failed"
	SlotEventEvicted             = "evicted"
	SlotEventLockReleased        = "lock_released"
	SlotEventDriftRepaired       = "drift_repaired"
	SlotEventCacheReconciled     = "cache_reconciled"
)

// SlotEvent 槽位审计日志
type SlotEvent struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	VoiceID   int64     `gorm:"not null;index" json:"voice_id"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	EventType string    `gorm:"size:30;not null" json:"event_type"`
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	Metadata  JSONMap   `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SlotEvent) TableName() string {
	return "voice_slot_events"
}
