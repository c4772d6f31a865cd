package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/service"
	"github.com/qs3c/storyvoice_go_server/internal/testutil"
)

func TestProcessor_AllocateTask(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	rdb, redisCleanup := testutil.SetupTestRedis(t)
	defer redisCleanup()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)
	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, "test_tasks")
	mock := provider.NewMockClient(model.ProviderElevenLabs)
	registry := provider.NewRegistryWithClients(map[string]provider.Client{
		model.ProviderElevenLabs: mock,
	})
	blobs := testutil.NewMemoryBlobStore()

	creditSvc := service.NewCreditService(creditRepo, userRepo, cfg)
	slotSvc := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, blobs, cfg)
	audioSvc := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditSvc, slotSvc, registry, taskQueue, blobs, cfg)
	processor := NewProcessor(slotSvc, audioSvc, creditSvc, taskQueue, cfg)

	user := testutil.TestUser(t, db)
	voice := testutil.TestVoice(t, db, user.ID, testutil.WithAllocation(model.AllocationAllocating, ""))
	require.NoError(t, blobs.Put(voice.SampleBlobKey, []byte("pcm"), "audio/mpeg"))

	err := processor.Process(context.Background(), &queue.TaskMessage{
		Type:    queue.TaskAllocate,
		VoiceID: voice.ID,
	})
	require.NoError(t, err)

	fresh, err := voiceRepo.GetByID(voice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllocationReady, fresh.AllocationStatus)
}

func TestProcessor_RetriesTransientFailureWithBackoff(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	rdb, redisCleanup := testutil.SetupTestRedis(t)
	defer redisCleanup()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Worker.MaxRetries = 3

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)
	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, "test_tasks")
	mock := provider.NewMockClient(model.ProviderElevenLabs)
	registry := provider.NewRegistryWithClients(map[string]provider.Client{
		model.ProviderElevenLabs: mock,
	})
	blobs := testutil.NewMemoryBlobStore()

	creditSvc := service.NewCreditService(creditRepo, userRepo, cfg)
	slotSvc := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, blobs, cfg)
	audioSvc := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditSvc, slotSvc, registry, taskQueue, blobs, cfg)
	processor := NewProcessor(slotSvc, audioSvc, creditSvc, taskQueue, cfg)

	user := testutil.TestUser(t, db)
	voice := testutil.TestVoice(t, db, user.ID, testutil.WithAllocation(model.AllocationAllocating, ""))
	require.NoError(t, blobs.Put(voice.SampleBlobKey, []byte("pcm"), "audio/mpeg"))
	mock.CreateErr = &provider.APIError{Provider: "elevenlabs", StatusCode: 503, Message: "overloaded"}

	ctx := context.Background()
	err := processor.Process(ctx, &queue.TaskMessage{
		Type:    queue.TaskAllocate,
		VoiceID: voice.ID,
		Attempt: 0,
	})
	require.NoError(t, err)

	// 重投进了延迟队列，attempt 递增
	moved, err := taskQueue.MoveDue(ctx, time.Now().UTC().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	msg, err := taskQueue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, queue.TaskAllocate, msg.Type)
	assert.Equal(t, 1, msg.Attempt)

	// 声音仍在 allocating，等待重试
	fresh, err := voiceRepo.GetByID(voice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllocationAllocating, fresh.AllocationStatus)
}

func TestProcessor_DeadLetterAfterMaxRetries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	rdb, redisCleanup := testutil.SetupTestRedis(t)
	defer redisCleanup()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Worker.MaxRetries = 3

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)
	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, "test_tasks")
	mock := provider.NewMockClient(model.ProviderElevenLabs)
	registry := provider.NewRegistryWithClients(map[string]provider.Client{
		model.ProviderElevenLabs: mock,
	})
	blobs := testutil.NewMemoryBlobStore()

	creditSvc := service.NewCreditService(creditRepo, userRepo, cfg)
	slotSvc := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, blobs, cfg)
	audioSvc := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditSvc, slotSvc, registry, taskQueue, blobs, cfg)
	processor := NewProcessor(slotSvc, audioSvc, creditSvc, taskQueue, cfg)

	user := testutil.TestUser(t, db)
	testutil.TestLot(t, db, user.ID, model.SourceFree, 10, nil)
	story := testutil.TestStory(t, db)
	voice := testutil.TestVoice(t, db, user.ID, testutil.WithAllocation(model.AllocationReady, "remote-dl"))
	mock.SeedVoice("remote-dl")
	mock.SynthesizeErr = &provider.APIError{Provider: "elevenlabs", StatusCode: 503, Message: "overloaded"}

	result, err := audioSvc.StartSynthesis(context.Background(), user.ID, voice.ID, story.ID)
	require.NoError(t, err)

	// 最后一次尝试失败后判死：任务 error，借记冲销
	err = processor.Process(context.Background(), &queue.TaskMessage{
		Type:    queue.TaskSynthesize,
		JobID:   result.Job.ID,
		Attempt: 2, // 第三次尝试（从 0 计）
	})
	require.NoError(t, err)

	job, err := audioRepo.GetByID(result.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AudioStatusError, job.Status)

	balance, err := creditSvc.ActiveBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestProcessor_UnknownTaskDropped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	rdb, redisCleanup := testutil.SetupTestRedis(t)
	defer redisCleanup()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)
	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, "test_tasks")
	registry := provider.NewRegistryWithClients(map[string]provider.Client{})
	blobs := testutil.NewMemoryBlobStore()

	creditSvc := service.NewCreditService(creditRepo, userRepo, cfg)
	slotSvc := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, blobs, cfg)
	audioSvc := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditSvc, slotSvc, registry, taskQueue, blobs, cfg)
	processor := NewProcessor(slotSvc, audioSvc, creditSvc, taskQueue, cfg)

	err := processor.Process(context.Background(), &queue.TaskMessage{Type: "bogus"})
	assert.NoError(t, err)
}
