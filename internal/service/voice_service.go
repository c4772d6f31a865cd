package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
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

var (
	ErrSampleTooLarge   = errors.New("录音文件过大")
	ErrBadSampleFormat  = errors.New("不支持的录音格式")
)

// VoiceService 声音样本的上传、查询与删除
type VoiceService struct {
	voiceRepo *repository.VoiceRepository
	audioRepo *repository.AudioRepository
	slotQueue *queue.SlotQueue
	registry  *provider.Registry
	blobs     BlobStore
	cfg       *config.Config
}

func NewVoiceService(
	voiceRepo *repository.VoiceRepository,
	audioRepo *repository.AudioRepository,
	slotQueue *queue.SlotQueue,
	registry *provider.Registry,
	blobs BlobStore,
	cfg *config.Config,
) *VoiceService {
	return &VoiceService{
		voiceRepo: voiceRepo,
		audioRepo: audioRepo,
		slotQueue: slotQueue,
		registry:  registry,
		blobs:     blobs,
		cfg:       cfg,
	}
}

// Upload 存储录音样本并以 recorded 状态建档。
// 远程分配延后到第一次合成请求，上传本身不占槽位。
func (s *VoiceService) Upload(userID int64, name, filename string, sample []byte) (*model.Voice, error) {
	if int64(len(sample)) > s.cfg.Upload.MaxSampleBytes {
		return nil, ErrSampleTooLarge
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.extAllowed(ext) {
		return nil, ErrBadSampleFormat
	}

	providerName := s.defaultProvider()
	blobKey := oss.SampleKey(userID, ext)
	if err := s.blobs.Put(blobKey, sample, oss.ContentTypeForExt(ext)); err != nil {
		return nil, err
	}

	if name == "" {
		name = fmt.Sprintf("%d_MAIN", userID)
	}

	voice := &model.Voice{
		UserID:           userID,
		Name:             name,
		SampleBlobKey:    blobKey,
		SampleFilename:   filename,
		SampleBytes:      int64(len(sample)),
		Provider:         providerName,
		AllocationStatus: model.AllocationRecorded,
	}
	if err := s.voiceRepo.Create(voice); err != nil {
		// 建档失败不留孤儿对象
		if delErr := s.blobs.Delete(blobKey); delErr != nil {
			log.Printf("Failed to delete orphan sample %s: %v", blobKey, delErr)
		}
		return nil, err
	}
	return voice, nil
}

// Get 查询声音详情（带队列位置）
func (s *VoiceService) Get(ctx context.Context, userID, voiceID int64) (*dto.VoiceInfo, error) {
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
	return s.toInfo(ctx, voice), nil
}

// List 查询用户全部声音
func (s *VoiceService) List(ctx context.Context, userID int64) ([]*dto.VoiceInfo, error) {
	voices, err := s.voiceRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	infos := make([]*dto.VoiceInfo, 0, len(voices))
	for _, voice := range voices {
		infos = append(infos, s.toInfo(ctx, voice))
	}
	return infos, nil
}

// Delete 删除声音及其样本、合成产物、远程槽位与队列残留
func (s *VoiceService) Delete(ctx context.Context, userID, voiceID int64) error {
	voice, err := s.voiceRepo.GetByID(voiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if voice.UserID != userID {
		return ErrPermissionDenied
	}

	// 远程槽位：远端已不存在视为成功
	if voice.RemoteVoiceID != nil {
		if client, err := s.registry.Get(voice.Provider); err == nil {
			callCtx, cancel := context.WithTimeout(ctx,
				time.Duration(s.cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)
			if err := client.DeleteVoice(callCtx, *voice.RemoteVoiceID); err != nil {
				log.Printf("Failed to delete remote voice %s: %v", *voice.RemoteVoiceID, err)
			}
			cancel()
		}
	}

	if err := s.slotQueue.Remove(ctx, voice.Provider, voice.ID); err != nil {
		log.Printf("Failed to remove voice %d from slot queue: %v", voice.ID, err)
	}

	if voice.SampleBlobKey != "" {
		if err := s.blobs.Delete(voice.SampleBlobKey); err != nil {
			log.Printf("Failed to delete sample %s: %v", voice.SampleBlobKey, err)
		}
	}

	audios, err := s.audioRepo.ListByVoice(voice.ID)
	if err != nil {
		return err
	}
	for _, audio := range audios {
		if audio.ArtifactBlobKey != "" {
			if err := s.blobs.Delete(audio.ArtifactBlobKey); err != nil {
				log.Printf("Failed to delete artifact %s: %v", audio.ArtifactBlobKey, err)
			}
		}
		if err := s.audioRepo.Delete(audio.ID); err != nil {
			return err
		}
	}

	return s.voiceRepo.Delete(voice.ID)
}

func (s *VoiceService) toInfo(ctx context.Context, voice *model.Voice) *dto.VoiceInfo {
	info := &dto.VoiceInfo{
		VoiceID:      voice.ID,
		Name:         voice.Name,
		Provider:     voice.Provider,
		Status:       voice.AllocationStatus,
		LastUsedAt:   voice.LastUsedAt,
		AllocatedAt:  voice.AllocatedAt,
		ErrorMessage: voice.ErrorMessage,
		CreatedAt:    voice.CreatedAt,
	}
	if voice.RemoteVoiceID != nil {
		info.RemoteVoiceID = *voice.RemoteVoiceID
	}
	if pos, err := s.slotQueue.Position(ctx, voice.Provider, voice.ID); err == nil && pos > 0 {
		info.QueuePosition = pos
	}
	return info
}

func (s *VoiceService) extAllowed(ext string) bool {
	for _, allowed := range s.cfg.Upload.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// defaultProvider 取配置中的首个服务商
func (s *VoiceService) defaultProvider() string {
	if len(s.cfg.Providers) > 0 {
		return s.cfg.Providers[0].Name
	}
	return model.ProviderElevenLabs
}
