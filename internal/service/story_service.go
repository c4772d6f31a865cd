package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

// StoryService 故事目录
type StoryService struct {
	storyRepo *repository.StoryRepository
	blobs     BlobStore
}

func NewStoryService(storyRepo *repository.StoryRepository, blobs BlobStore) *StoryService {
	return &StoryService{
		storyRepo: storyRepo,
		blobs:     blobs,
	}
}

// StoryView 故事列表视图
type StoryView struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	Length    int    `json:"length"`
	CoverURL  string `json:"cover_url,omitempty"`
	SortOrder int    `json:"sort_order"`
}

// List 故事列表
func (s *StoryService) List() ([]*StoryView, error) {
	stories, err := s.storyRepo.List()
	if err != nil {
		return nil, err
	}
	views := make([]*StoryView, 0, len(stories))
	for _, story := range stories {
		views = append(views, s.toView(story))
	}
	return views, nil
}

// Get 故事详情
func (s *StoryService) Get(storyID int64) (*StoryView, error) {
	story, err := s.storyRepo.GetByID(storyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.toView(story), nil
}

func (s *StoryService) toView(story *model.Story) *StoryView {
	view := &StoryView{
		ID:        story.ID,
		Title:     story.Title,
		Language:  story.Language,
		Length:    len([]rune(story.Content)),
		SortOrder: story.SortOrder,
	}
	if story.CoverBlobKey != "" {
		if url, err := s.blobs.GetSignedURL(story.CoverBlobKey); err == nil {
			view.CoverURL = url
		}
	}
	return view
}
