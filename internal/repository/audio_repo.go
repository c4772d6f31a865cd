package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

type AudioRepository struct {
	db *gorm.DB
}

func NewAudioRepository(db *gorm.DB) *AudioRepository {
	return &AudioRepository{db: db}
}

func (r *AudioRepository) Create(audio *model.AudioStory) error {
	return r.db.Create(audio).Error
}

func (r *AudioRepository) GetByID(id int64) (*model.AudioStory, error) {
	var audio model.AudioStory
	err := r.db.Where("id = ?", id).First(&audio).Error
	if err != nil {
		return nil, err
	}
	return &audio, nil
}

// GetByVoiceAndStory 按 (voice, story) 查询任务；(voice_id, story_id) 唯一
func (r *AudioRepository) GetByVoiceAndStory(voiceID, storyID int64) (*model.AudioStory, error) {
	var audio model.AudioStory
	err := r.db.Where("voice_id = ? AND story_id = ?", voiceID, storyID).First(&audio).Error
	if err != nil {
		return nil, err
	}
	return &audio, nil
}

func (r *AudioRepository) Update(audio *model.AudioStory) error {
	return r.db.Save(audio).Error
}

func (r *AudioRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.AudioStory{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *AudioRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.AudioStory{}).Where("id = ?", id).Updates(fields).Error
}

// ListByVoice 查询一个声音的全部合成任务
func (r *AudioRepository) ListByVoice(voiceID int64) ([]*model.AudioStory, error) {
	var audios []*model.AudioStory
	err := r.db.Where("voice_id = ?", voiceID).Find(&audios).Error
	return audios, err
}

// HasProcessingByVoice 判断声音是否有进行中的合成任务（驱逐保护）
func (r *AudioRepository) HasProcessingByVoice(voiceID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.AudioStory{}).
		Where("voice_id = ? AND status = ?", voiceID, model.AudioStatusProcessing).
		Count(&count).Error
	return count > 0, err
}

func (r *AudioRepository) Delete(id int64) error {
	return r.db.Delete(&model.AudioStory{}, id).Error
}
