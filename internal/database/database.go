package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/model"
)

// NewMySQL 初始化 MySQL 连接
func NewMySQL(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// NewRedis 初始化 Redis 连接
func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Migrate 迁移所有表并建立约束索引
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
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
		return err
	}

	return createConstraintIndexes(db)
}

// createConstraintIndexes 建立 AutoMigrate 无法表达的约束。
// 部分索引在 SQLite/Postgres 下生效；MySQL 不支持部分索引，
// 此时唯一性由账本事务中的用户行锁保证（见 CreditRepository）。
func createConstraintIndexes(db *gorm.DB) error {
	dialect := db.Dialector.Name()

	if dialect == "sqlite" || dialect == "postgres" {
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
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
	}

	return nil
}
