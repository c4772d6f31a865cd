package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:      fmt.Sprintf("testuser_%d", time.Now().UnixNano()),
		Email:         &email,
		PasswordHash:  &passwordHash,
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithAdmin 设置管理员
func WithAdmin() func(*model.User) {
	return func(u *model.User) {
		u.IsAdmin = true
	}
}

// WithCachedBalance 设置缓存余额
func WithCachedBalance(balance int) func(*model.User) {
	return func(u *model.User) {
		u.CreditsBalanceCached = balance
	}
}

// TestStory 创建测试故事
func TestStory(t *testing.T, db *gorm.DB, opts ...func(*model.Story)) *model.Story {
	t.Helper()

	story := &model.Story{
		Title:    fmt.Sprintf("Test Story %d", time.Now().UnixNano()%10000),
		Content:  "Dawno, dawno temu za górami i lasami mieszkał mały smok.",
		Language: "pl",
	}

	for _, opt := range opts {
		opt(story)
	}

	if err := db.Create(story).Error; err != nil {
		t.Fatalf("Failed to create test story: %v", err)
	}

	return story
}

// WithContent 设置故事内容
func WithContent(content string) func(*model.Story) {
	return func(s *model.Story) {
		s.Content = content
	}
}

// TestVoice 创建测试声音
func TestVoice(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Voice)) *model.Voice {
	t.Helper()

	voice := &model.Voice{
		UserID:           userID,
		Name:             fmt.Sprintf("voice_%d", time.Now().UnixNano()%10000),
		SampleBlobKey:    fmt.Sprintf("voice-samples/%d/sample_%d.mp3", userID, time.Now().UnixNano()),
		SampleFilename:   "sample.mp3",
		SampleBytes:      1024,
		Provider:         model.ProviderElevenLabs,
		AllocationStatus: model.AllocationRecorded,
	}

	for _, opt := range opts {
		opt(voice)
	}

	if err := db.Create(voice).Error; err != nil {
		t.Fatalf("Failed to create test voice: %v", err)
	}

	return voice
}

// WithAllocation 设置分配状态与远程 ID
func WithAllocation(status, remoteID string) func(*model.Voice) {
	return func(v *model.Voice) {
		v.AllocationStatus = status
		if remoteID != "" {
			v.RemoteVoiceID = &remoteID
			now := time.Now().UTC()
			v.AllocatedAt = &now
		}
	}
}

// WithProvider 设置服务商
func WithProvider(provider string) func(*model.Voice) {
	return func(v *model.Voice) {
		v.Provider = provider
	}
}

// WithLastUsed 设置最近使用时间
func WithLastUsed(at time.Time) func(*model.Voice) {
	return func(v *model.Voice) {
		v.LastUsedAt = &at
	}
}

// WithoutSample 清空样本（模拟缺失）
func WithoutSample() func(*model.Voice) {
	return func(v *model.Voice) {
		v.SampleBlobKey = ""
	}
}

// TestLot 创建测试积分批次并同步缓存余额
func TestLot(t *testing.T, db *gorm.DB, userID int64, source string, amount int, expiresAt *time.Time) *model.CreditLot {
	t.Helper()

	lot := &model.CreditLot{
		UserID:          userID,
		Source:          source,
		AmountGranted:   amount,
		AmountRemaining: amount,
		ExpiresAt:       expiresAt,
	}
	if err := db.Create(lot).Error; err != nil {
		t.Fatalf("Failed to create test lot: %v", err)
	}

	// 保持缓存余额与活跃批次一致
	var active int64
	now := time.Now().UTC()
	err := db.Model(&model.CreditLot{}).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Select("COALESCE(SUM(amount_remaining), 0)").
		Scan(&active).Error
	if err != nil {
		t.Fatalf("Failed to compute active balance: %v", err)
	}
	if err := db.Model(&model.User{}).Where("id = ?", userID).
		Update("credits_balance_cached", active).Error; err != nil {
		t.Fatalf("Failed to update cached balance: %v", err)
	}

	return lot
}

// TestAudioStory 创建测试合成任务
func TestAudioStory(t *testing.T, db *gorm.DB, userID, voiceID, storyID int64, status string) *model.AudioStory {
	t.Helper()

	audio := &model.AudioStory{
		UserID:  userID,
		VoiceID: voiceID,
		StoryID: storyID,
		Status:  status,
	}
	if audio.Status == model.AudioStatusReady {
		audio.ArtifactBlobKey = fmt.Sprintf("audio-stories/%d/%d.mp3", voiceID, storyID)
	}

	if err := db.Create(audio).Error; err != nil {
		t.Fatalf("Failed to create test audio story: %v", err)
	}

	return audio
}
