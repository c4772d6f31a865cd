package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/internal/api/middleware"
	"github.com/qs3c/storyvoice_go_server/internal/model/dto"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

type AudioHandler struct {
	audioService *service.AudioService
}

func NewAudioHandler(audioService *service.AudioService) *AudioHandler {
	return &AudioHandler{
		audioService: audioService,
	}
}

// StartSynthesis 发起（或轮询）一次故事配音合成。
// 产物已存在返回 200；排队/分配/合成中返回 202；
// 积分不足 402；声音不可用 409。
// POST /api/v1/voices/:id/stories/:story_id/audio
func (h *AudioHandler) StartSynthesis(c *gin.Context) {
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
	storyID, err := strconv.ParseInt(c.Param("story_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的故事 ID")
		return
	}

	result, err := h.audioService.StartSynthesis(c.Request.Context(), userID, voiceID, storyID)
	if err != nil {
		if ice, ok := service.IsInsufficientCredits(err); ok {
			response.PaymentRequiredError(c, ice.Error(), dto.InsufficientCreditsResponse{
				Required:  ice.Required,
				Available: ice.Available,
			})
			return
		}
		if vue, ok := service.IsVoiceUnavailable(err); ok {
			response.ConflictError(c, vue.Reason)
			return
		}
		respondServiceError(c, err)
		return
	}

	body := dto.SynthesisResponse{
		Status:        result.Status,
		QueuePosition: result.QueuePosition,
		QueueLength:   result.QueueLength,
		RemoteVoiceID: result.RemoteVoiceID,
		ArtifactURL:   result.ArtifactURL,
	}
	if result.Job != nil {
		body.JobID = result.Job.ID
	}

	switch result.Status {
	case dto.SynthesisStatusReady:
		if result.RemoteVoiceID != "" {
			c.Header("X-Voice-Remote-ID", result.RemoteVoiceID)
		}
		response.Success(c, body)
	case dto.SynthesisStatusQueuedForSlot:
		c.Header("X-Voice-Queue-Position", strconv.Itoa(result.QueuePosition))
		c.Header("X-Voice-Queue-Length", strconv.Itoa(result.QueueLength))
		response.Accepted(c, body)
	default: // processing, allocating_voice
		if result.RemoteVoiceID != "" {
			c.Header("X-Voice-Remote-ID", result.RemoteVoiceID)
		}
		response.Accepted(c, body)
	}
}

// GetAudio 获取合成产物：302 跳转到带签名的播放地址
// GET /api/v1/voices/:id/stories/:story_id/audio
func (h *AudioHandler) GetAudio(c *gin.Context) {
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
	storyID, err := strconv.ParseInt(c.Param("story_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的故事 ID")
		return
	}

	url, err := h.audioService.GetArtifactURL(userID, voiceID, storyID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Redirect(http.StatusFound, url)
}
