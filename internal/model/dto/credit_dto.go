package dto

import "time"

// LotView 单个积分批次的展示视图
type LotView struct {
	LotID           int64      `json:"lot_id"`
	Source          string     `json:"source"`
	AmountGranted   int        `json:"amount_granted"`
	AmountRemaining int        `json:"amount_remaining"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Expired         bool       `json:"expired"`
}

// CreditSummary 用户积分概览
type CreditSummary struct {
	ActiveBalance int       `json:"active_balance"`
	CachedBalance int       `json:"cached_balance"`
	Mismatch      bool      `json:"mismatch,omitempty"`
	UnitSize      int       `json:"unit_size"`
	UnitLabel     string    `json:"unit_label"`
	Lots          []LotView `json:"lots"`
}

// GrantRequest 管理端授予积分请求
type GrantRequest struct {
	Amount    int        `json:"amount" binding:"required"`
	Source    string     `json:"source" binding:"required"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
