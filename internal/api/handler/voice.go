package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/internal/api/middleware"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

type VoiceHandler struct {
	voiceService *service.VoiceService
}

func NewVoiceHandler(voiceService *service.VoiceService) *VoiceHandler {
	return &VoiceHandler{
		voiceService: voiceService,
	}
}

// Upload 上传录音样本，声音以 recorded 状态建档
// POST /api/v1/voices
func (h *VoiceHandler) Upload(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "缺少录音文件")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.ParamError(c, "无法读取录音文件")
		return
	}
	defer file.Close()

	sample, err := io.ReadAll(file)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	name := c.PostForm("name")

	voice, err := h.voiceService.Upload(userID, name, fileHeader.Filename, sample)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSampleTooLarge), errors.Is(err, service.ErrBadSampleFormat):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Created(c, gin.H{
		"voice_id": voice.ID,
		"status":   voice.AllocationStatus,
	})
}

// Get 查询声音详情
// GET /api/v1/voices/:id
func (h *VoiceHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	voiceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的声音 ID")
		return
	}

	info, err := h.voiceService.Get(c.Request.Context(), userID, voiceID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, info)
}

// List 查询当前用户全部声音
// GET /api/v1/voices
func (h *VoiceHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	infos, err := h.voiceService.List(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, infos)
}

// Delete 删除声音及其样本、合成产物与远程槽位
// DELETE /api/v1/voices/:id
func (h *VoiceHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	voiceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的声音 ID")
		return
	}

	if err := h.voiceService.Delete(c.Request.Context(), userID, voiceID); err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, nil)
}

// respondServiceError 把服务层错误映射为 HTTP 响应
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFoundError(c, "")
	case errors.Is(err, service.ErrPermissionDenied):
		response.PermissionError(c, "")
	case errors.Is(err, service.ErrInvalidArgument):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
