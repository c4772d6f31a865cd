package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/model/dto"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/oss"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

// StartResult 合成请求的编排结果
type StartResult struct {
	Status        string // dto.SynthesisStatus*
	Job           *model.AudioStory
	ArtifactURL   string
	RemoteVoiceID string
	QueuePosition int
	QueueLength   int
}

// AudioService 合成编排器：借记积分、保障槽位、派发后台合成，
// 并把 queued/allocating/processing/ready 状态透传给调用方。
type AudioService struct {
	audioRepo  *repository.AudioRepository
	voiceRepo  *repository.VoiceRepository
	storyRepo  *repository.StoryRepository
	creditSvc  *CreditService
	slotSvc    *SlotService
	registry   *provider.Registry
	tasks      TaskDispatcher
	blobs      BlobStore
	cfg        *config.Config
	pollDelay  time.Duration // 等待分配时的轮询间隔
	retryDelay time.Duration // 重新自我投递的延迟
}

func NewAudioService(
	audioRepo *repository.AudioRepository,
	voiceRepo *repository.VoiceRepository,
	storyRepo *repository.StoryRepository,
	creditSvc *CreditService,
	slotSvc *SlotService,
	registry *provider.Registry,
	tasks TaskDispatcher,
	blobs BlobStore,
	cfg *config.Config,
) *AudioService {
	return &AudioService{
		audioRepo:  audioRepo,
		voiceRepo:  voiceRepo,
		storyRepo:  storyRepo,
		creditSvc:  creditSvc,
		slotSvc:    slotSvc,
		registry:   registry,
		tasks:      tasks,
		blobs:      blobs,
		cfg:        cfg,
		pollDelay:  5 * time.Second,
		retryDelay: 30 * time.Second,
	}
}

// StartSynthesis 处理一次合成请求。幂等：同一 (voice, story) 重复调用
// 至多产生一笔借记、一个任务和一次在途合成。
func (s *AudioService) StartSynthesis(ctx context.Context, userID, voiceID, storyID int64) (*StartResult, error) {
	story, err := s.storyRepo.GetByID(storyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

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

	required, err := RequiredCredits(story.Content, s.cfg.Credits.UnitSize)
	if err != nil {
		return nil, err
	}

	// 已有任务：ready/processing 不再扣费直接返回
	job, err := s.audioRepo.GetByVoiceAndStory(voiceID, storyID)
	created := false
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		job = &model.AudioStory{
			UserID:         userID,
			VoiceID:        voiceID,
			StoryID:        storyID,
			Status:         model.AudioStatusPending,
			CreditsCharged: required,
		}
		if err := s.audioRepo.Create(job); err != nil {
			// 并发创建撞唯一索引，重读即可
			job, err = s.audioRepo.GetByVoiceAndStory(voiceID, storyID)
			if err != nil {
				return nil, err
			}
		} else {
			created = true
		}
	}
	if job.UserID != userID {
		return nil, ErrPermissionDenied
	}

	switch job.Status {
	case model.AudioStatusReady:
		if job.HasArtifact() {
			url, err := s.blobs.GetSignedURL(job.ArtifactBlobKey)
			if err != nil {
				return nil, err
			}
			result := &StartResult{Status: dto.SynthesisStatusReady, Job: job, ArtifactURL: url}
			if voice.RemoteVoiceID != nil {
				result.RemoteVoiceID = *voice.RemoteVoiceID
			}
			return result, nil
		}
		// ready 却没有产物，当作失败任务重新跑
		job.Status = model.AudioStatusPending
	case model.AudioStatusProcessing:
		return &StartResult{Status: dto.SynthesisStatusProcessing, Job: job}, nil
	case model.AudioStatusError:
		// 失败任务重试：上一笔借记已冲销，重新计费
		job.Status = model.AudioStatusPending
		job.ErrorMessage = ""
	}

	if job.CreditsCharged != required {
		job.CreditsCharged = required
	}
	if !created {
		if err := s.audioRepo.Update(job); err != nil {
			return nil, err
		}
	}

	// 借记。账本对 jobID 幂等，pending 任务重复请求不会二次扣费。
	reason := fmt.Sprintf("synthesis:%d", job.ID)
	if _, err := s.creditSvc.Debit(userID, required, job.ID, &storyID, reason); err != nil {
		if _, ok := IsInsufficientCredits(err); ok && created {
			// 本次新建的任务不留痕
			if delErr := s.audioRepo.Delete(job.ID); delErr != nil {
				log.Printf("Failed to delete job %d after insufficient credits: %v", job.ID, delErr)
			}
		}
		return nil, err
	}

	ensure, err := s.slotSvc.EnsureActive(ctx, userID, voiceID)
	if err != nil {
		return nil, err
	}

	switch ensure.State {
	case EnsureReady:
		if err := s.audioRepo.UpdateStatus(job.ID, model.AudioStatusProcessing); err != nil {
			return nil, err
		}
		job.Status = model.AudioStatusProcessing
		if err := s.tasks.Push(ctx, &queue.TaskMessage{
			Type:  queue.TaskSynthesize,
			JobID: job.ID,
		}); err != nil {
			return nil, err
		}
		return &StartResult{
			Status:        dto.SynthesisStatusProcessing,
			Job:           job,
			RemoteVoiceID: ensure.RemoteVoiceID,
		}, nil

	case EnsureAllocating:
		s.dispatchDeferredSynthesis(ctx, job.ID)
		return &StartResult{
			Status:        dto.SynthesisStatusAllocatingVoice,
			Job:           job,
			QueuePosition: ensure.QueuePosition,
		}, nil

	case EnsureQueued:
		s.dispatchDeferredSynthesis(ctx, job.ID)
		return &StartResult{
			Status:        dto.SynthesisStatusQueuedForSlot,
			Job:           job,
			QueuePosition: ensure.QueuePosition,
			QueueLength:   ensure.QueueLength,
		}, nil

	default: // EnsureFailed
		s.failJob(job.ID, ensure.Reason)
		return nil, &VoiceUnavailableError{Reason: ensure.Reason}
	}
}

// dispatchDeferredSynthesis 声音未就绪时投递延迟合成任务轮询等待
func (s *AudioService) dispatchDeferredSynthesis(ctx context.Context, jobID int64) {
	err := s.tasks.PushDelayed(ctx, &queue.TaskMessage{
		Type:  queue.TaskSynthesize,
		JobID: jobID,
	}, s.pollDelay, time.Now().UTC())
	if err != nil {
		// 节拍兜底：排队节拍完成分配后，轮询请求也会再派发
		log.Printf("Failed to dispatch deferred synthesis for job %d: %v", jobID, err)
	}
}

// Synthesize 合成任务的 worker 执行体。
// 声音未就绪时在 allocation_wait_deadline 内轮询，超时重新自我投递，
// 不判任务失败。可重试错误向上返回交给重试策略。
func (s *AudioService) Synthesize(ctx context.Context, jobID int64) error {
	job, err := s.audioRepo.GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if job.Status != model.AudioStatusPending && job.Status != model.AudioStatusProcessing {
		return nil
	}

	deadline := time.Now().Add(time.Duration(s.cfg.VoiceSlots.AllocationWaitDeadlineSeconds) * time.Second)
	var ensure *EnsureResult
	for {
		ensure, err = s.slotSvc.EnsureActive(ctx, job.UserID, job.VoiceID)
		if err != nil {
			return err
		}
		if ensure.State == EnsureReady || ensure.State == EnsureFailed {
			break
		}
		if time.Now().After(deadline) {
			// 槽位迟迟未就绪：重新投递自己，稍后再试
			return s.tasks.PushDelayed(ctx, &queue.TaskMessage{
				Type:  queue.TaskSynthesize,
				JobID: jobID,
			}, s.retryDelay, time.Now().UTC())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollDelay):
		}
	}

	if ensure.State == EnsureFailed {
		s.FailJob(jobID, ensure.Reason)
		return nil
	}

	if job.Status == model.AudioStatusPending {
		if err := s.audioRepo.UpdateStatus(job.ID, model.AudioStatusProcessing); err != nil {
			return err
		}
	}

	story, err := s.storyRepo.GetByID(job.StoryID)
	if err != nil {
		return err
	}
	voice, err := s.voiceRepo.GetByID(job.VoiceID)
	if err != nil {
		return err
	}

	client, err := s.registry.Get(voice.Provider)
	if err != nil {
		s.FailJob(jobID, err.Error())
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx,
		time.Duration(s.cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)
	defer cancel()

	audio, err := client.Synthesize(callCtx, ensure.RemoteVoiceID, story.Content)
	if err != nil {
		if errors.Is(err, provider.ErrRemoteVoiceMissing) {
			// 漂移恢复：任务退回 pending 并重新排队分配
			if repairErr := s.slotSvc.RepairDrift(ctx, job.VoiceID); repairErr != nil {
				return repairErr
			}
			if err := s.audioRepo.UpdateStatus(job.ID, model.AudioStatusPending); err != nil {
				return err
			}
			return s.tasks.PushDelayed(ctx, &queue.TaskMessage{
				Type:  queue.TaskSynthesize,
				JobID: jobID,
			}, s.pollDelay, time.Now().UTC())
		}
		if provider.IsRetryable(err) {
			return err
		}
		s.FailJob(jobID, err.Error())
		return nil
	}

	artifactKey := oss.ArtifactKey(job.VoiceID, job.StoryID)
	if err := s.blobs.Put(artifactKey, audio, "audio/mpeg"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.audioRepo.UpdateFields(job.ID, map[string]interface{}{
		"status":            model.AudioStatusReady,
		"artifact_blob_key": artifactKey,
		"artifact_bytes":    int64(len(audio)),
		"error_message":     "",
	}); err != nil {
		return err
	}

	if err := s.voiceRepo.TouchLastUsed(job.VoiceID, now); err != nil {
		log.Printf("Failed to touch voice %d after synthesis: %v", job.VoiceID, err)
	}
	s.slotSvc.MarkCooling(job.VoiceID)

	log.Printf("Job %d: synthesized %d bytes for story %d", job.ID, len(audio), job.StoryID)
	return nil
}

// FailJob 任务终态失败：置 error 并冲销借记（账本保证幂等）
func (s *AudioService) FailJob(jobID int64, reason string) {
	s.failJob(jobID, reason)
}

func (s *AudioService) failJob(jobID int64, reason string) {
	if err := s.audioRepo.UpdateFields(jobID, map[string]interface{}{
		"status":        model.AudioStatusError,
		"error_message": reason,
	}); err != nil {
		log.Printf("Failed to mark job %d error: %v", jobID, err)
	}
	if _, err := s.creditSvc.RefundByJob(jobID, "synthesis_failed"); err != nil {
		log.Printf("Failed to refund job %d: %v", jobID, err)
	}
}

// GetArtifactURL 获取已就绪任务的签名播放地址
func (s *AudioService) GetArtifactURL(userID, voiceID, storyID int64) (string, error) {
	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if voice.UserID != userID {
		return "", ErrPermissionDenied
	}

	job, err := s.audioRepo.GetByVoiceAndStory(voiceID, storyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !job.HasArtifact() {
		return "", ErrNotFound
	}

	return s.blobs.GetSignedURL(job.ArtifactBlobKey)
}

// SetPollDelays 测试用：缩短轮询与重投间隔
func (s *AudioService) SetPollDelays(poll, retry time.Duration) {
	s.pollDelay = poll
	s.retryDelay = retry
}
