package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

type StoryHandler struct {
	storyService *service.StoryService
}

func NewStoryHandler(storyService *service.StoryService) *StoryHandler {
	return &StoryHandler{
		storyService: storyService,
	}
}

// List 故事列表
// GET /api/v1/stories
func (h *StoryHandler) List(c *gin.Context) {
	stories, err := h.storyService.List()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, stories)
}

// Get 故事详情
// GET /api/v1/stories/:id
func (h *StoryHandler) Get(c *gin.Context) {
	storyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的故事 ID")
		return
	}

	story, err := h.storyService.Get(storyID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, story)
}
