package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/internal/model/dto"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

type AdminHandler struct {
	creditService *service.CreditService
	slotService   *service.SlotService
	tasks         service.TaskDispatcher
}

func NewAdminHandler(creditService *service.CreditService, slotService *service.SlotService, tasks service.TaskDispatcher) *AdminHandler {
	return &AdminHandler{
		creditService: creditService,
		slotService:   slotService,
		tasks:         tasks,
	}
}

// GrantCredits 管理端授予积分
// POST /api/v1/admin/users/:id/credits/grant
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的用户 ID")
		return
	}

	var req dto.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "admin_grant"
	}

	lot, err := h.creditService.Grant(userID, req.Amount, req.Source, req.ExpiresAt, reason, nil)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, lot)
}

// SlotStatus 槽位运维视图
// GET /api/v1/admin/voice-slots/status
func (h *AdminHandler) SlotStatus(c *gin.Context) {
	status, err := h.slotService.SlotStatus(c.Request.Context())
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, status)
}

// ProcessQueue 手动触发排队节拍
// POST /api/v1/admin/voice-slots/process-queue
func (h *AdminHandler) ProcessQueue(c *gin.Context) {
	h.dispatchBeat(c, queue.TaskProcessQueue)
}

// ReclaimIdle 手动触发空闲回收节拍
// POST /api/v1/admin/voice-slots/reclaim
func (h *AdminHandler) ReclaimIdle(c *gin.Context) {
	h.dispatchBeat(c, queue.TaskReclaimIdle)
}

// ExpireLots 手动触发积分过期清理
// POST /api/v1/admin/credits/expire
func (h *AdminHandler) ExpireLots(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.tasks.Push(ctx, &queue.TaskMessage{Type: queue.TaskExpireLots}); err != nil {
		response.UnavailableError(c, "任务投递失败")
		return
	}
	response.Accepted(c, nil)
}

func (h *AdminHandler) dispatchBeat(c *gin.Context, taskType string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	for _, provider := range h.slotService.Providers() {
		if err := h.tasks.Push(ctx, &queue.TaskMessage{Type: taskType, Provider: provider}); err != nil {
			response.UnavailableError(c, "任务投递失败")
			return
		}
	}
	response.Accepted(c, nil)
}
