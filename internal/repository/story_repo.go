package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

type StoryRepository struct {
	db *gorm.DB
}

func NewStoryRepository(db *gorm.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

func (r *StoryRepository) Create(story *model.Story) error {
	return r.db.Create(story).Error
}

func (r *StoryRepository) GetByID(id int64) (*model.Story, error) {
	var story model.Story
	err := r.db.Where("id = ?", id).First(&story).Error
	if err != nil {
		return nil, err
	}
	return &story, nil
}

func (r *StoryRepository) List() ([]*model.Story, error) {
	var stories []*model.Story
	err := r.db.Order("sort_order ASC, id ASC").Find(&stories).Error
	return stories, err
}

func (r *StoryRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Story{}).Count(&count).Error
	return count, err
}
