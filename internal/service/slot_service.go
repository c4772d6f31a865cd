package service

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/model/dto"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

// EnsureActive 的结果状态
const (
	EnsureReady      = "ready"
	EnsureAllocating = "allocating"
	EnsureQueued     = "queued"
	EnsureFailed     = "failed"
)

// EnsureResult 槽位保障结果。预期内的分支用值表达，不用 error。
type EnsureResult struct {
	State         string
	RemoteVoiceID string
	QueuePosition int
	QueueLength   int
	Reason        string
}

// SlotService 弹性槽位管理：在 slot_limit 内复用远程语音槽位，
// 饱和时排队等待，空闲时公平回收。
type SlotService struct {
	voiceRepo *repository.VoiceRepository
	audioRepo *repository.AudioRepository
	eventRepo *repository.SlotEventRepository
	slotQueue *queue.SlotQueue
	registry  *provider.Registry
	tasks     TaskDispatcher
	blobs     BlobStore
	cfg       *config.Config
}

func NewSlotService(
	voiceRepo *repository.VoiceRepository,
	audioRepo *repository.AudioRepository,
	eventRepo *repository.SlotEventRepository,
	slotQueue *queue.SlotQueue,
	registry *provider.Registry,
	tasks TaskDispatcher,
	blobs BlobStore,
	cfg *config.Config,
) *SlotService {
	return &SlotService{
		voiceRepo: voiceRepo,
		audioRepo: audioRepo,
		eventRepo: eventRepo,
		slotQueue: slotQueue,
		registry:  registry,
		tasks:     tasks,
		blobs:     blobs,
		cfg:       cfg,
	}
}

func (s *SlotService) lockTTL() time.Duration {
	return time.Duration(s.cfg.VoiceSlots.LockTTLSeconds) * time.Second
}

func (s *SlotService) warmHold() time.Duration {
	return time.Duration(s.cfg.VoiceSlots.WarmHoldSeconds) * time.Second
}

// EnsureActive 保证声音占有一个活跃远程槽位，编排器的唯一入口。
// 已就绪则刷新 last_used_at；有容量则转入 allocating 并派发分配任务；
// 否则入队等待。
func (s *SlotService) EnsureActive(ctx context.Context, userID, voiceID int64) (*EnsureResult, error) {
	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if voice.UserID != userID {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UTC()

	if voice.AllocationStatus == model.AllocationError {
		reason := voice.ErrorMessage
		if reason == "" {
			reason = "声音分配失败"
		}
		return &EnsureResult{State: EnsureFailed, Reason: reason}, nil
	}

	// 已就绪（含 cooling 回温）：刷新使用时间直接返回
	if voice.RemoteVoiceID != nil &&
		(voice.AllocationStatus == model.AllocationReady || voice.AllocationStatus == model.AllocationCooling) {
		if voice.AllocationStatus == model.AllocationCooling {
			if err := s.voiceRepo.Transition(voice.ID, model.AllocationCooling, model.AllocationReady, nil); err != nil {
				// 并发下被驱逐或已回温，重新走一遍
				return s.EnsureActive(ctx, userID, voiceID)
			}
		}
		if err := s.voiceRepo.TouchLastUsed(voice.ID, now); err != nil {
			return nil, err
		}
		return &EnsureResult{State: EnsureReady, RemoteVoiceID: *voice.RemoteVoiceID}, nil
	}

	if !voice.HasSample() {
		return &EnsureResult{State: EnsureFailed, Reason: "声音样本缺失，请重新上传录音"}, nil
	}

	if voice.AllocationStatus == model.AllocationAllocating {
		pos, _ := s.slotQueue.Position(ctx, voice.Provider, voice.ID)
		return &EnsureResult{State: EnsureAllocating, QueuePosition: pos}, nil
	}

	if enqueued, err := s.slotQueue.IsEnqueued(ctx, voice.Provider, voice.ID); err == nil && enqueued {
		pos, _ := s.slotQueue.Position(ctx, voice.Provider, voice.ID)
		length, _ := s.slotQueue.Length(ctx, voice.Provider)
		return &EnsureResult{State: EnsureQueued, QueuePosition: pos, QueueLength: length}, nil
	}

	active, err := s.voiceRepo.CountActive(voice.Provider)
	if err != nil {
		return nil, err
	}
	if active >= s.cfg.VoiceSlots.SlotLimit {
		return s.enqueue(ctx, voice, now)
	}

	return s.dispatchAllocation(ctx, voice)
}

// dispatchAllocation 转入 allocating 并派发分配任务。
// 状态迁移带守卫，输掉竞态的一方直接报告 allocating。
func (s *SlotService) dispatchAllocation(ctx context.Context, voice *model.Voice) (*EnsureResult, error) {
	if err := s.voiceRepo.Transition(voice.ID, voice.AllocationStatus, model.AllocationAllocating,
		map[string]interface{}{"error_message": ""}); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			return &EnsureResult{State: EnsureAllocating}, nil
		}
		return nil, err
	}

	s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventAllocationStarted, "ensure_active", nil)

	if err := s.tasks.Push(ctx, &queue.TaskMessage{
		Type:     queue.TaskAllocate,
		VoiceID:  voice.ID,
		Provider: voice.Provider,
	}); err != nil {
		// 派发失败则回退状态，等下一次请求或排队节拍重试
		if rbErr := s.voiceRepo.Transition(voice.ID, model.AllocationAllocating, model.AllocationRecorded, nil); rbErr != nil {
			log.Printf("Failed to roll back allocation state for voice %d: %v", voice.ID, rbErr)
		}
		return nil, err
	}

	return &EnsureResult{State: EnsureAllocating}, nil
}

// enqueue 容量耗尽时排队等待
func (s *SlotService) enqueue(ctx context.Context, voice *model.Voice, now time.Time) (*EnsureResult, error) {
	pos, err := s.slotQueue.Enqueue(ctx, &queue.Entry{
		VoiceID:  voice.ID,
		UserID:   voice.UserID,
		Provider: voice.Provider,
	}, now)
	if err != nil {
		return nil, err
	}
	length, err := s.slotQueue.Length(ctx, voice.Provider)
	if err != nil {
		return nil, err
	}

	s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventQueued, "slot_limit_reached",
		model.JSONMap{"queue_length": length})

	return &EnsureResult{State: EnsureQueued, QueuePosition: pos, QueueLength: length}, nil
}

// Allocate 分配任务的 worker 执行体。
// 在带 TTL 的声音锁下调用服务商创建远程声音。
// 可重试错误向上返回交给重试策略；终态失败就地落库，不再重试。
func (s *SlotService) Allocate(ctx context.Context, voiceID int64) error {
	now := time.Now().UTC()
	if err := s.voiceRepo.AcquireSlotLock(voiceID, s.lockTTL(), now); err != nil {
		return err // ErrLockHeld 可重试
	}
	defer s.releaseLock(voiceID)

	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // 声音已删除
		}
		return err
	}

	// 另一个 worker 已完成
	if voice.RemoteVoiceID != nil && voice.AllocationStatus == model.AllocationReady {
		return nil
	}

	switch voice.AllocationStatus {
	case model.AllocationAllocating:
	case model.AllocationRecorded, model.AllocationEvicted:
		// 队列消费路径：先转入 allocating
		if err := s.voiceRepo.Transition(voice.ID, voice.AllocationStatus, model.AllocationAllocating, nil); err != nil {
			return nil
		}
	default:
		return nil
	}

	if !voice.HasSample() {
		s.failAllocation(voice, "声音样本缺失")
		return nil
	}

	sample, err := s.blobs.Get(voice.SampleBlobKey)
	if err != nil {
		return err // 存储抖动，可重试
	}

	client, err := s.registry.Get(voice.Provider)
	if err != nil {
		s.failAllocation(voice, err.Error())
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx,
		time.Duration(s.cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)
	defer cancel()

	filename := voice.SampleFilename
	if filename == "" {
		filename = "sample.mp3"
	}
	remoteID, err := client.CreateVoice(callCtx, sample, filename, voice.Name)
	if err != nil {
		if provider.IsRetryable(err) {
			return err
		}
		s.failAllocation(voice, err.Error())
		return nil
	}

	now = time.Now().UTC()
	err = s.voiceRepo.Transition(voice.ID, model.AllocationAllocating, model.AllocationReady,
		map[string]interface{}{
			"remote_voice_id": remoteID,
			"allocated_at":    now,
			"last_used_at":    now,
			"error_message":   "",
		})
	if err != nil {
		// 本地状态已被并发改写，远端槽位成了孤儿，清理后让重试走完整流程
		log.Printf("Voice %d state changed during allocation, deleting orphan remote voice %s", voiceID, remoteID)
		if delErr := client.DeleteVoice(callCtx, remoteID); delErr != nil {
			log.Printf("Failed to delete orphan remote voice %s: %v", remoteID, delErr)
		}
		return err
	}

	_ = s.slotQueue.Remove(ctx, voice.Provider, voice.ID)
	s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventAllocationCompleted, "",
		model.JSONMap{"remote_voice_id": remoteID})
	log.Printf("Voice %d allocated on %s (remote %s)", voice.ID, voice.Provider, remoteID)
	return nil
}

// failAllocation 终态失败落库
func (s *SlotService) failAllocation(voice *model.Voice, reason string) {
	if err := s.voiceRepo.Transition(voice.ID, model.AllocationAllocating, model.AllocationError,
		map[string]interface{}{"error_message": reason}); err != nil {
		log.Printf("Failed to mark voice %d allocation error: %v", voice.ID, err)
	}
	s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventAllocationFailed, reason, nil)
}

// AbortAllocation 重试耗尽后的终态处理：置 error 并记审计事件
func (s *SlotService) AbortAllocation(voiceID int64, reason string) {
	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		log.Printf("Failed to load voice %d for allocation abort: %v", voiceID, err)
		return
	}
	s.failAllocation(voice, reason)
}

// ProcessQueue 排队节拍：容量允许时取出最早的等待者重新走 EnsureActive。
// 每轮最多派发 max_dispatch_per_cycle 条，避免饿死其他服务商。
func (s *SlotService) ProcessQueue(ctx context.Context, providerName string) (int, error) {
	dispatched := 0
	for i := 0; i < s.cfg.VoiceSlots.MaxDispatchPerCycle; i++ {
		active, err := s.voiceRepo.CountActive(providerName)
		if err != nil {
			return dispatched, err
		}
		if active >= s.cfg.VoiceSlots.SlotLimit {
			break
		}

		entries, err := s.slotQueue.PopReady(ctx, providerName, 1)
		if err != nil {
			return dispatched, err
		}
		if len(entries) == 0 {
			break
		}

		entry := entries[0]
		// EnsureActive 自带状态检查：容量在取出后蒸发会重新入队，
		// 重复投递会被 allocation_status 吸收
		result, err := s.EnsureActive(ctx, entry.UserID, entry.VoiceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // 声音已删除，丢弃队列残留
			}
			return dispatched, err
		}
		if result.State == EnsureAllocating || result.State == EnsureReady {
			dispatched++
		}
	}
	return dispatched, nil
}

// ReclaimIdle 回收节拍：按需驱逐闲置声音为队列腾出容量。
// 策略：绝不动被锁定或有进行中合成的声音；零余额用户优先；
// 其余按最久未使用、最小 voice_id；只驱逐到满足需求为止。
func (s *SlotService) ReclaimIdle(ctx context.Context, providerName string) (int, error) {
	queueLen, err := s.slotQueue.Length(ctx, providerName)
	if err != nil {
		return 0, err
	}

	active, err := s.voiceRepo.CountActive(providerName)
	if err != nil {
		return 0, err
	}

	needed := queueLen - (s.cfg.VoiceSlots.SlotLimit - active)
	if needed <= 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	cutoff := now.Add(-s.warmHold())
	candidates, err := s.voiceRepo.EvictionCandidates(providerName, cutoff)
	if err != nil {
		return 0, err
	}

	client, err := s.registry.Get(providerName)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, voice := range candidates {
		if evicted >= needed {
			break
		}
		if voice.SlotLocked(now) {
			continue
		}
		if processing, err := s.audioRepo.HasProcessingByVoice(voice.ID); err != nil || processing {
			continue
		}

		if err := s.voiceRepo.AcquireSlotLock(voice.ID, s.lockTTL(), now); err != nil {
			continue
		}

		if s.evictOne(ctx, client, voice, cutoff) {
			evicted++
		}
		s.releaseLock(voice.ID)
	}

	if evicted > 0 && queueLen > 0 {
		if err := s.tasks.Push(ctx, &queue.TaskMessage{
			Type:     queue.TaskProcessQueue,
			Provider: providerName,
		}); err != nil {
			log.Printf("Failed to trigger queue processing after reclaim: %v", err)
		}
	}
	return evicted, nil
}

// evictOne 锁内复核资格后删除远程声音并落库
func (s *SlotService) evictOne(ctx context.Context, client provider.Client, voice *model.Voice, cutoff time.Time) bool {
	fresh, err := s.voiceRepo.GetByID(voice.ID)
	if err != nil {
		return false
	}
	if fresh.AllocationStatus != model.AllocationReady && fresh.AllocationStatus != model.AllocationCooling {
		return false
	}
	if fresh.LastUsedAt != nil && !fresh.LastUsedAt.Before(cutoff) {
		return false
	}
	if fresh.RemoteVoiceID == nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx,
		time.Duration(s.cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)
	defer cancel()
	if err := client.DeleteVoice(callCtx, *fresh.RemoteVoiceID); err != nil {
		log.Printf("Failed to delete remote voice %s for eviction: %v", *fresh.RemoteVoiceID, err)
		return false
	}

	if err := s.voiceRepo.Transition(fresh.ID, fresh.AllocationStatus, model.AllocationEvicted,
		map[string]interface{}{
			"remote_voice_id": nil,
			"allocated_at":    nil,
		}); err != nil {
		return false
	}

	s.eventRepo.Log(fresh.ID, fresh.UserID, model.SlotEventEvicted, "idle_reclaim",
		model.JSONMap{"last_used_at": fresh.LastUsedAt})
	log.Printf("Voice %d evicted from %s slot", fresh.ID, fresh.Provider)
	return true
}

// RepairDrift 远端槽位被静默回收时的恢复：
// 清掉远程 ID、退回 recorded、重新排队。
func (s *SlotService) RepairDrift(ctx context.Context, voiceID int64) error {
	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		return err
	}

	if err := s.voiceRepo.Transition(voice.ID, voice.AllocationStatus, model.AllocationRecorded,
		map[string]interface{}{
			"remote_voice_id": nil,
			"allocated_at":    nil,
		}); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := s.slotQueue.Enqueue(ctx, &queue.Entry{
		VoiceID:  voice.ID,
		UserID:   voice.UserID,
		Provider: voice.Provider,
	}, now); err != nil {
		return err
	}

	s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventDriftRepaired, "remote_voice_missing", nil)
	log.Printf("Voice %d drift repaired, re-enqueued for allocation", voice.ID)

	if err := s.tasks.Push(ctx, &queue.TaskMessage{
		Type:     queue.TaskProcessQueue,
		Provider: voice.Provider,
	}); err != nil {
		log.Printf("Failed to trigger queue processing after drift repair: %v", err)
	}
	return nil
}

// MarkCooling 合成结束后把声音转入保温状态
func (s *SlotService) MarkCooling(voiceID int64) {
	if err := s.voiceRepo.Transition(voiceID, model.AllocationReady, model.AllocationCooling, nil); err != nil &&
		!errors.Is(err, repository.ErrInvalidState) {
		log.Printf("Failed to mark voice %d cooling: %v", voiceID, err)
	}
}

// releaseLock 释放声音锁并记审计事件
func (s *SlotService) releaseLock(voiceID int64) {
	if err := s.voiceRepo.ReleaseSlotLock(voiceID); err != nil {
		log.Printf("Failed to release slot lock for voice %d: %v", voiceID, err)
		return
	}
	if voice, err := s.voiceRepo.GetByID(voiceID); err == nil {
		s.eventRepo.Log(voice.ID, voice.UserID, model.SlotEventLockReleased, "", nil)
	}
}

// SlotStatus 运维视图：各服务商的槽位占用与排队情况
func (s *SlotService) SlotStatus(ctx context.Context) (*dto.SlotStatusResponse, error) {
	now := time.Now().UTC()
	resp := &dto.SlotStatusResponse{GeneratedAt: now}

	for _, name := range s.registry.Names() {
		voices, err := s.voiceRepo.ListActive(name)
		if err != nil {
			return nil, err
		}
		queueLen, err := s.slotQueue.Length(ctx, name)
		if err != nil {
			return nil, err
		}

		status := dto.ProviderSlotStatus{
			Provider:    name,
			SlotLimit:   s.cfg.VoiceSlots.SlotLimit,
			ActiveCount: len(voices),
			QueueLength: queueLen,
		}
		for _, v := range voices {
			view := dto.SlotVoiceView{
				VoiceID:          v.ID,
				UserID:           v.UserID,
				Provider:         v.Provider,
				AllocationStatus: v.AllocationStatus,
				LastUsedAt:       v.LastUsedAt,
				Locked:           v.SlotLocked(now),
			}
			if v.RemoteVoiceID != nil {
				view.RemoteVoiceID = *v.RemoteVoiceID
			}
			status.Voices = append(status.Voices, view)
		}
		resp.Providers = append(resp.Providers, status)
	}
	return resp, nil
}

// Providers 已配置的服务商名称
func (s *SlotService) Providers() []string {
	return s.registry.Names()
}
