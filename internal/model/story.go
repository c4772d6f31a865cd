package model

import (
	"time"
)

// Story 故事文本
type Story struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"size:200;not null" json:"title"`
	Content      string    `gorm:"type:text;not null" json:"-"`
	Language     string    `gorm:"size:10;default:pl" json:"language"`
	CoverBlobKey string    `gorm:"size:500" json:"-"`
	SortOrder    int       `gorm:"default:0;index" json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Story) TableName() string {
	return "stories"
}
