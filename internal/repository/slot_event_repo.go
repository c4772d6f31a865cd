package repository

import (
	"log"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

type SlotEventRepository struct {
	db *gorm.DB
}

func NewSlotEventRepository(db *gorm.DB) *SlotEventRepository {
	return &SlotEventRepository{db: db}
}

// Log 写入一条槽位审计事件。审计失败只记日志，不阻断主流程。
func (r *SlotEventRepository) Log(voiceID, userID int64, eventType, reason string, metadata model.JSONMap) {
	event := &model.SlotEvent{
		VoiceID:   voiceID,
		UserID:    userID,
		EventType: eventType,
		Reason:    reason,
		Metadata:  metadata,
	}
	if err := r.db.Create(event).Error; err != nil {
		log.Printf("Failed to log slot event %s for voice %d: %v", eventType, voiceID, err)
	}
}

// ListByVoice 查询一个声音的事件历史
func (r *SlotEventRepository) ListByVoice(voiceID int64, limit int) ([]*model.SlotEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []*model.SlotEvent
	err := r.db.Where("voice_id = ?", voiceID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
