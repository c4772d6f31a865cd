package model

import (
	"time"
)

// 语音服务商
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderCartesia   = "cartesia"
)

// 槽位分配状态
const (
	AllocationRecorded   = "recorded"
	AllocationAllocating = "allocating"
	AllocationReady      = "ready"
	AllocationCooling    = "cooling"
	AllocationEvicted    = "evicted"
	AllocationError      = "error"
)

// ActiveAllocationStatuses 占用远程槽位的状态集合
var ActiveAllocationStatuses = []string{AllocationAllocating, AllocationReady, AllocationCooling}

// Voice 用户录制的声音样本及其远程槽位绑定
type Voice struct {
	ID                 int64      `gorm:"primaryKey" json:"id"`
	UserID             int64      `gorm:"not null;index" json:"user_id"`
	Name               string     `gorm:"size:100" json:"name"`
	SampleBlobKey      string     `gorm:"size:500" json:"-"`
	SampleFilename     string     `gorm:"size:255" json:"sample_filename,omitempty"`
	SampleBytes        int64      `json:"sample_bytes,omitempty"`
	Provider           string     `gorm:"size:20;not null;default:elevenlabs" json:"provider"`
	RemoteVoiceID      *string    `gorm:"size:100" json:"remote_voice_id,omitempty"`
	AllocationStatus   string     `gorm:"size:20;not null;default:recorded;index:idx_voices_alloc_used" json:"allocation_status"`
	LastUsedAt         *time.Time `gorm:"index:idx_voices_alloc_used" json:"last_used_at,omitempty"`
	AllocatedAt        *time.Time `json:"allocated_at,omitempty"`
	SlotLockExpiresAt  *time.Time `json:"-"`
	ErrorMessage       string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (Voice) TableName() string {
	return "voices"
}

// HasSample 判断声音是否有可用样本
func (v *Voice) HasSample() bool {
	return v.SampleBlobKey != ""
}

// Allocatable 判断当前状态能否发起远程分配
func (v *Voice) Allocatable() bool {
	return v.AllocationStatus == AllocationRecorded || v.AllocationStatus == AllocationEvicted
}

// SlotLocked 判断在 now 时刻槽位锁是否仍然持有
func (v *Voice) SlotLocked(now time.Time) bool {
	return v.SlotLockExpiresAt != nil && v.SlotLockExpiresAt.After(now)
}
