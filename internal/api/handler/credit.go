package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/internal/api/middleware"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

type CreditHandler struct {
	creditService *service.CreditService
}

func NewCreditHandler(creditService *service.CreditService) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
	}
}

// GetSummary 当前用户积分概览（含最近流水）
// GET /api/v1/me/credits
func (h *CreditHandler) GetSummary(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	summary, err := h.creditService.Summary(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	history, _, err := h.creditService.History(userID, 20, 0, nil)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gin.H{
		"balance": summary.ActiveBalance,
		"lots":    summary.Lots,
		"history": history,
		"unit": gin.H{
			"size":  summary.UnitSize,
			"label": summary.UnitLabel,
		},
	})
}

// GetHistory 分页查询积分流水
// GET /api/v1/me/credits/history?limit&offset&type
func (h *CreditHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	limit := parseIntDefault(c.Query("limit"), 20)
	offset := parseIntDefault(c.Query("offset"), 0)

	var kinds []string
	if raw := c.Query("type"); raw != "" {
		for _, kind := range strings.Split(raw, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				kinds = append(kinds, kind)
			}
		}
	}

	txs, total, err := h.creditService.History(userID, limit, offset, kinds)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	response.SuccessPage(c, total, page, limit, txs)
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
