package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/database"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/oss"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/provider"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, report only")
	expireLots   = flag.Bool("expire-lots", true, "Expire credit lots past their expiry")
	reclaimIdle  = flag.Bool("reclaim-idle", true, "Reclaim idle voice slots")
	processQueue = flag.Bool("process-queue", true, "Drain the slot allocation queue")
)

func main() {
	flag.Parse()

	log.Println("Starting maintenance run...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}

	ossClient, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		log.Fatalf("Failed to init OSS client: %v", err)
	}

	slotQueue := queue.NewSlotQueue(rdb)
	taskQueue := queue.NewTaskQueue(rdb, cfg.Worker.TaskQueue)
	registry := provider.NewRegistry(cfg.Providers,
		time.Duration(cfg.Worker.ProviderCallTimeoutSeconds)*time.Second)

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	voiceRepo := repository.NewVoiceRepository(db)
	audioRepo := repository.NewAudioRepository(db)
	eventRepo := repository.NewSlotEventRepository(db)

	creditService := service.NewCreditService(creditRepo, userRepo, cfg)
	slotService := service.NewSlotService(voiceRepo, audioRepo, eventRepo, slotQueue, registry, taskQueue, ossClient, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	if *expireLots {
		if *dryRun {
			log.Println("[dry-run] would expire credit lots past", now)
		} else {
			affected, err := creditService.ExpireNow(nil, now)
			if err != nil {
				log.Printf("Lot expiration failed: %v", err)
			} else {
				log.Printf("Expired %d credit lots", affected)
			}
		}
	}

	for _, providerName := range registry.Names() {
		if *reclaimIdle {
			if *dryRun {
				queueLen, _ := slotQueue.Length(ctx, providerName)
				active, _ := voiceRepo.CountActive(providerName)
				log.Printf("[dry-run] %s: active=%d queue=%d slot_limit=%d",
					providerName, active, queueLen, cfg.VoiceSlots.SlotLimit)
			} else {
				evicted, err := slotService.ReclaimIdle(ctx, providerName)
				if err != nil {
					log.Printf("Reclaim failed on %s: %v", providerName, err)
				} else {
					log.Printf("Reclaimed %d slots on %s", evicted, providerName)
				}
			}
		}

		if *processQueue && !*dryRun {
			dispatched, err := slotService.ProcessQueue(ctx, providerName)
			if err != nil {
				log.Printf("Queue drain failed on %s: %v", providerName, err)
			} else {
				log.Printf("Dispatched %d allocations on %s", dispatched, providerName)
			}
		}
	}

	log.Println("Maintenance run complete")
}
