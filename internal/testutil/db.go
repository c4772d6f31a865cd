package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

// SetupTestDB 创建测试数据库（SQLite 内存模式）
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&model.User{},
		&model.Story{},
		&model.CreditLot{},
		&model.CreditTransaction{},
		&model.CreditAllocation{},
		&model.Voice{},
		&model.SlotEvent{},
		&model.AudioStory{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	// SQLite 支持部分唯一索引，测试里一并建立
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_open_debit_per_job
			ON credit_transactions (job_id)
			WHERE kind = 'debit' AND status = 'applied' AND job_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_remote_voice_id
			ON voices (remote_voice_id)
			WHERE remote_voice_id IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("Failed to create test index: %v", err)
		}
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("Warning: Failed to get underlying DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		t.Logf("Warning: Failed to close test database: %v", err)
	}
}

// SetupTestRedis 启动 miniredis 并返回客户端
func SetupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}
