package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 积分来源
const (
	SourceEvent    = "event"
	SourceMonthly  = "monthly"
	SourceReferral = "referral"
	SourceAddOn    = "add_on"
	SourceFree     = "free"
)

// ValidSource 判断积分来源是否合法
func ValidSource(source string) bool {
	switch source {
	case SourceEvent, SourceMonthly, SourceReferral, SourceAddOn, SourceFree:
		return true
	}
	return false
}

// 交易类型
const (
	TxKindDebit  = "debit"
	TxKindCredit = "credit"
	TxKindRefund = "refund"
	TxKindExpire = "expire"
)

// 交易状态
const (
	TxStatusApplied  = "applied"
	TxStatusRefunded = "refunded"
)

// JSONMap 用于 JSON 对象字段
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, m)
}

// CreditLot 同一来源、同一过期时间的一笔积分
type CreditLot struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index:idx_lots_user_expires" json:"user_id"`
	Source          string     `gorm:"size:20;not null" json:"source"` // event, monthly, referral, add_on, free
	AmountGranted   int        `gorm:"not null" json:"amount_granted"`
	AmountRemaining int        `gorm:"not null" json:"amount_remaining"`
	ExpiresAt       *time.Time `gorm:"index:idx_lots_user_expires" json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (CreditLot) TableName() string {
	return "credit_lots"
}

// Expired 判断在 now 时刻该批次是否已过期
func (l *CreditLot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// CreditTransaction 积分流水（金额带符号，借记为负）
type CreditTransaction struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;index:idx_tx_user_created" json:"user_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	Kind      string    `gorm:"size:20;not null" json:"kind"`                    // debit, credit, refund, expire
	Status    string    `gorm:"size:20;not null;default:applied" json:"status"` // applied, refunded
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	JobID     *int64    `gorm:"index" json:"job_id,omitempty"`
	StoryID   *int64    `json:"story_id,omitempty"`
	Metadata  JSONMap   `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_tx_user_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// CreditAllocation 交易与批次的对应关系，金额与父交易同号
type CreditAllocation struct {
	TransactionID int64 `gorm:"primaryKey" json:"transaction_id"`
	LotID         int64 `gorm:"primaryKey" json:"lot_id"`
	Amount        int   `gorm:"not null" json:"amount"`
}

func (CreditAllocation) TableName() string {
	return "credit_transaction_allocations"
}
