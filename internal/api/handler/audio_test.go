package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/api/middleware"
	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/response"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/service"
	"github.com/qs3c/storyvoice_go_server/internal/testutil"
)

// handlerTestEnv 处理器层测试上下文
type handlerTestEnv struct {
	DB        *gorm.DB
	Mock      *provider.MockClient
	Blobs     *testutil.MemoryBlobStore
	AudioSvc  *service.AudioService
	CreditSvc *service.CreditService
	VoiceSvc  *service.VoiceService
	SlotSvc   *service.SlotService
	TaskQueue *queue.TaskQueue
	UserRepo  *repository.UserRepository
	Cfg       *config.Config
}

func setupHandlerEnv(t *testing.T) (*handlerTestEnv, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	rdb, redisCleanup := testutil.SetupTestRedis(t)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.VoiceSlots.SlotLimit = 2

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
	voiceSvc := service.NewVoiceService(voiceRepo, audioRepo, slotQueue, registry, blobs, cfg)

	env := &handlerTestEnv{
		DB:        db,
		Mock:      mock,
		Blobs:     blobs,
		AudioSvc:  audioSvc,
		CreditSvc: creditSvc,
		VoiceSvc:  voiceSvc,
		SlotSvc:   slotSvc,
		TaskQueue: taskQueue,
		UserRepo:  userRepo,
		Cfg:       cfg,
	}
	cleanup := func() {
		redisCleanup()
		testutil.CleanupTestDB(t, db)
	}
	return env, cleanup
}

// mockAuth 模拟认证中间件
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func audioRouter(env *handlerTestEnv, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAudioHandler(env.AudioSvc)
	router := gin.New()
	router.Use(mockAuth(userID))
	router.POST("/voices/:id/stories/:story_id/audio", h.StartSynthesis)
	router.GET("/voices/:id/stories/:story_id/audio", h.GetAudio)
	return router
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAudioHandler_StartSynthesis_Processing(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	user := testutil.TestUser(t, env.DB)
	testutil.TestLot(t, env.DB, user.ID, model.SourceFree, 10, nil)
	story := testutil.TestStory(t, env.DB)
	voice := testutil.TestVoice(t, env.DB, user.ID, testutil.WithAllocation(model.AllocationReady, "remote-h1"))
	env.Mock.SeedVoice("remote-h1")

	router := audioRouter(env, user.ID)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/voices/%d/stories/%d/audio", voice.ID, story.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "remote-h1", w.Header().Get("X-Voice-Remote-ID"))

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "processing", data["status"])
	assert.NotZero(t, data["job_id"])
}

func TestAudioHandler_StartSynthesis_QueuedHeaders(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	now := time.Now().UTC()
	other := testutil.TestUser(t, env.DB)
	testutil.TestVoice(t, env.DB, other.ID,
		testutil.WithAllocation(model.AllocationReady, "hold-1"), testutil.WithLastUsed(now))
	testutil.TestVoice(t, env.DB, other.ID,
		testutil.WithAllocation(model.AllocationReady, "hold-2"), testutil.WithLastUsed(now))

	user := testutil.TestUser(t, env.DB)
	testutil.TestLot(t, env.DB, user.ID, model.SourceFree, 10, nil)
	story := testutil.TestStory(t, env.DB)
	voice := testutil.TestVoice(t, env.DB, user.ID)
	require.NoError(t, env.Blobs.Put(voice.SampleBlobKey, []byte("pcm"), "audio/mpeg"))

	router := audioRouter(env, user.ID)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/voices/%d/stories/%d/audio", voice.ID, story.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Voice-Queue-Position"))
	assert.Equal(t, "1", w.Header().Get("X-Voice-Queue-Length"))

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "queued_for_slot", data["status"])
}

func TestAudioHandler_StartSynthesis_InsufficientCredits402(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	user := testutil.TestUser(t, env.DB)
	testutil.TestLot(t, env.DB, user.ID, model.SourceFree, 1, nil)
	story := testutil.TestStory(t, env.DB, testutil.WithContent(makeText(2500)))
	voice := testutil.TestVoice(t, env.DB, user.ID, testutil.WithAllocation(model.AllocationReady, "remote-h2"))

	router := audioRouter(env, user.ID)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/voices/%d/stories/%d/audio", voice.ID, story.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["required"])
	assert.Equal(t, float64(1), data["available"])
}

func TestAudioHandler_StartSynthesis_NotFound(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	user := testutil.TestUser(t, env.DB)

	router := audioRouter(env, user.ID)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voices/999/stories/999/audio", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudioHandler_StartSynthesis_VoiceUnavailable409(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	user := testutil.TestUser(t, env.DB)
	testutil.TestLot(t, env.DB, user.ID, model.SourceFree, 10, nil)
	story := testutil.TestStory(t, env.DB)
	voice := testutil.TestVoice(t, env.DB, user.ID, testutil.WithoutSample())

	router := audioRouter(env, user.ID)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/voices/%d/stories/%d/audio", voice.ID, story.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAudioHandler_GetAudio(t *testing.T) {
	env, cleanup := setupHandlerEnv(t)
	defer cleanup()

	user := testutil.TestUser(t, env.DB)
	story := testutil.TestStory(t, env.DB)
	voice := testutil.TestVoice(t, env.DB, user.ID, testutil.WithAllocation(model.AllocationReady, "remote-h3"))

	router := audioRouter(env, user.ID)

	// 未就绪 → 404
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/voices/%d/stories/%d/audio", voice.ID, story.ID), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 就绪 → 302 跳转签名地址
	audio := testutil.TestAudioStory(t, env.DB, user.ID, voice.ID, story.ID, model.AudioStatusReady)
	require.NoError(t, env.Blobs.Put(audio.ArtifactBlobKey, []byte("mp3"), "audio/mpeg"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "signed=1")
}

// makeText 生成指定码点数的文本
func makeText(n int) string {
	buf := make([]rune, n)
	for i := range buf {
		buf[i] = 'z'
	}
	return string(buf)
}
