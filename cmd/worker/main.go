package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/database"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/cron"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/oss"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/service"
	"github.com/qs3c/storyvoice_go_server/internal/worker"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS
	ossClient, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		log.Fatalf("Failed to init OSS client: %v", err)
	}
	log.Println("OSS client initialized")

	// 初始化队列与服务商
	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, cfg.Worker.TaskQueue)
	registry := provider.NewRegistry(cfg.Providers,
		time.Duration(cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)

	// 初始化 Repository 与 Service
	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)

	creditService := service.NewCreditService(creditRepo, userRepo, cfg)
	slotService := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, ossClient, cfg)
	audioService := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditService, slotService, registry, taskQueue, ossClient, cfg)

	// 创建任务处理器
	processor := worker.NewProcessor(slotService, audioService, creditService, taskQueue, cfg)

	// 周期节拍
	beats := cron.NewService(taskQueue, registry.Names(), cfg)
	beats.Start()
	defer beats.Stop()

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	processor.Run(ctx)
	log.Println("Worker shutdown complete")
}
