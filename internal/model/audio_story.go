package model

import (
	"time"
)

// 合成任务状态
const (
	AudioStatusPending    = "pending"
	AudioStatusProcessing = "processing"
	AudioStatusReady      = "ready"
	AudioStatusError      = "error"
)

// AudioStory 一次故事配音合成任务
type AudioStory struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	UserID          int64     `gorm:"not null;index" json:"user_id"`
	VoiceID         int64     `gorm:"not null;uniqueIndex:idx_audio_voice_story" json:"voice_id"`
	StoryID         int64     `gorm:"not null;uniqueIndex:idx_audio_voice_story" json:"story_id"`
	Status          string    `gorm:"size:20;not null;default:pending;index" json:"status"`
	CreditsCharged  int       `gorm:"default:0" json:"credits_charged"`
	ArtifactBlobKey string    `gorm:"size:500" json:"-"`
	ArtifactBytes   int64     `json:"artifact_bytes,omitempty"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (AudioStory) TableName() string {
	return "audio_stories"
}

// HasArtifact 判断任务是否已产出音频
func (a *AudioStory) HasArtifact() bool {
	return a.Status == AudioStatusReady && a.ArtifactBlobKey != ""
}
