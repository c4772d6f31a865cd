package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

var (
	ErrInvalidState = errors.New("非法的状态迁移")
	ErrLockHeld     = errors.New("槽位锁已被持有")
)

// allowedTransitions 槽位状态机。键为当前状态，值为允许迁入的下一状态。
var allowedTransitions = map[string][]string{
	model.AllocationRecorded:   {model.AllocationAllocating, model.AllocationError},
	model.AllocationAllocating: {model.AllocationReady, model.AllocationRecorded, model.AllocationError},
	model.AllocationReady:      {model.AllocationCooling, model.AllocationEvicted, model.AllocationRecorded, model.AllocationError},
	model.AllocationCooling:    {model.AllocationReady, model.AllocationEvicted, model.AllocationRecorded, model.AllocationError},
	model.AllocationEvicted:    {model.AllocationAllocating, model.AllocationRecorded, model.AllocationError},
	model.AllocationError:      {model.AllocationRecorded},
}

type VoiceRepository struct {
	db *gorm.DB
}

func NewVoiceRepository(db *gorm.DB) *VoiceRepository {
	return &VoiceRepository{db: db}
}

func (r *VoiceRepository) Create(voice *model.Voice) error {
	return r.db.Create(voice).Error
}

func (r *VoiceRepository) GetByID(id int64) (*model.Voice, error) {
	var voice model.Voice
	err := r.db.Where("id = ?", id).First(&voice).Error
	if err != nil {
		return nil, err
	}
	return &voice, nil
}

func (r *VoiceRepository) ListByUser(userID int64) ([]*model.Voice, error) {
	var voices []*model.Voice
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&voices).Error
	return voices, err
}

func (r *VoiceRepository) Update(voice *model.Voice) error {
	return r.db.Save(voice).Error
}

func (r *VoiceRepository) Delete(id int64) error {
	return r.db.Delete(&model.Voice{}, id).Error
}

// Transition 带守卫的状态迁移。非法迁移返回 ErrInvalidState；
// 若数据库中的当前状态已不是 from（并发修改），同样拒绝。
func (r *VoiceRepository) Transition(id int64, from, to string, fields map[string]interface{}) error {
	if from != to && !transitionAllowed(from, to) {
		return ErrInvalidState
	}

	updates := map[string]interface{}{"allocation_status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.db.Model(&model.Voice{}).
		Where("id = ? AND allocation_status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcquireSlotLock 获取带 TTL 的槽位锁。过期的残留锁可被覆盖。
func (r *VoiceRepository) AcquireSlotLock(id int64, ttl time.Duration, now time.Time) error {
	expires := now.Add(ttl)
	res := r.db.Model(&model.Voice{}).
		Where("id = ? AND (slot_lock_expires_at IS NULL OR slot_lock_expires_at < ?)", id, now).
		Update("slot_lock_expires_at", expires)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseSlotLock 释放槽位锁（幂等）
func (r *VoiceRepository) ReleaseSlotLock(id int64) error {
	return r.db.Model(&model.Voice{}).Where("id = ?", id).
		Update("slot_lock_expires_at", nil).Error
}

// TouchLastUsed 刷新最近使用时间
func (r *VoiceRepository) TouchLastUsed(id int64, now time.Time) error {
	return r.db.Model(&model.Voice{}).Where("id = ?", id).
		Update("last_used_at", now).Error
}

// CountActive 统计服务商当前占用槽位的声音数量。
// 不做缓存，每次从库里查，避免计数漂移。
func (r *VoiceRepository) CountActive(provider string) (int, error) {
	var count int64
	err := r.db.Model(&model.Voice{}).
		Where("provider = ? AND allocation_status IN ?", provider, model.ActiveAllocationStatuses).
		Count(&count).Error
	return int(count), err
}

// ListActive 列出服务商占用槽位的声音
func (r *VoiceRepository) ListActive(provider string) ([]*model.Voice, error) {
	var voices []*model.Voice
	err := r.db.Where("provider = ? AND allocation_status IN ?", provider, model.ActiveAllocationStatuses).
		Order("last_used_at ASC, id ASC").
		Find(&voices).Error
	return voices, err
}

// EvictionCandidates 按驱逐策略排序返回候选：
// 零余额用户优先，再按最久未使用，再按最小 voice_id。
// 仅包含 ready/cooling 且最近使用早于 cutoff 的声音。
func (r *VoiceRepository) EvictionCandidates(provider string, cutoff time.Time) ([]*model.Voice, error) {
	var voices []*model.Voice
	err := r.db.Model(&model.Voice{}).
		Joins("JOIN users ON users.id = voices.user_id").
		Where("voices.provider = ? AND voices.allocation_status IN ?", provider,
			[]string{model.AllocationReady, model.AllocationCooling}).
		Where("voices.last_used_at IS NULL OR voices.last_used_at < ?", cutoff).
		Order("CASE WHEN users.credits_balance_cached = 0 THEN 0 ELSE 1 END ASC").
		Order("voices.last_used_at ASC").
		Order("voices.id ASC").
		Find(&voices).Error
	return voices, err
}

// GetByRemoteVoiceID 按远程槽位 ID 查询
func (r *VoiceRepository) GetByRemoteVoiceID(remoteID string) (*model.Voice, error) {
	var voice model.Voice
	err := r.db.Where("remote_voice_id = ?", remoteID).First(&voice).Error
	if err != nil {
		return nil, err
	}
	return &voice, nil
}
