package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/api"
	"github.com/qs3c/storyvoice_go_server/internal/api/handler"
	"github.com/qs3c/storyvoice_go_server/internal/database"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/email"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/oss"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/seed"
	"github.com/qs3c/storyvoice_go_server/internal/service"
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
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	if err := seed.Stories(db); err != nil {
		log.Printf("Warning: failed to seed stories: %v", err)
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
	emailSvc := email.NewService(&cfg.Email)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	storyRepo := repository.NewStoryRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)

	// 初始化 Service
	creditService := service.NewCreditService(creditRepo, userRepo, cfg)
	slotService := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, ossClient, cfg)
	audioService := service.NewAudioService(audioRepo, voiceRepo, storyRepo, creditService, slotService, registry, taskQueue, ossClient, cfg)
	voiceService := service.NewVoiceService(voiceRepo, audioRepo, slotQueue, registry, ossClient, cfg)
	storyService := service.NewStoryService(storyRepo, ossClient)
	authService := service.NewAuthService(userRepo, creditService, emailSvc, cfg)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	voiceHandler := handler.NewVoiceHandler(voiceService)
	audioHandler := handler.NewAudioHandler(audioService)
	creditHandler := handler.NewCreditHandler(creditService)
	storyHandler := handler.NewStoryHandler(storyService)
	adminHandler := handler.NewAdminHandler(creditService, slotService, taskQueue)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		voiceHandler,
		audioHandler,
		creditHandler,
		storyHandler,
		adminHandler,
		userRepo,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
