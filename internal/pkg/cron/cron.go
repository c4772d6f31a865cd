package cron

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
)

// Service 周期节拍：按配置间隔投递 process_queue / reclaim_idle 任务、
// 每日投递 expire_lots，并持续把到期的延迟任务搬进主队列。
type Service struct {
	tasks     *queue.TaskQueue
	providers []string
	cfg       *config.Config
	stopChan  chan struct{}
}

func NewService(tasks *queue.TaskQueue, providers []string, cfg *config.Config) *Service {
	return &Service{
		tasks:     tasks,
		providers: providers,
		cfg:       cfg,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动全部节拍
func (s *Service) Start() {
	go s.runQueuePoll()
	go s.runReclaim()
	go s.runDailyExpire()
	go s.runScheduledMover()
	log.Println("Cron service started (queue drain + idle reclaim + lot expiration)")
}

// Stop 停止全部节拍
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runQueuePoll 排队节拍
func (s *Service) runQueuePoll() {
	interval := time.Duration(s.cfg.VoiceSlots.QueuePollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.dispatchPerProvider(queue.TaskProcessQueue)
		}
	}
}

// runReclaim 空闲回收节拍
func (s *Service) runReclaim() {
	interval := time.Duration(s.cfg.VoiceSlots.ReclaimIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.dispatchPerProvider(queue.TaskReclaimIdle)
		}
	}
}

// runDailyExpire 每日 UTC 零点过期清理
func (s *Service) runDailyExpire() {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.dispatch(&queue.TaskMessage{Type: queue.TaskExpireLots})
			timer.Reset(24 * time.Hour)
		}
	}
}

// runScheduledMover 每秒把到期的延迟任务搬进主队列
func (s *Service) runScheduledMover() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.tasks.MoveDue(context.Background(), time.Now().UTC()); err != nil {
				log.Printf("Failed to move scheduled tasks: %v", err)
			}
		}
	}
}

func (s *Service) dispatchPerProvider(taskType string) {
	for _, provider := range s.providers {
		s.dispatch(&queue.TaskMessage{Type: taskType, Provider: provider})
	}
}

func (s *Service) dispatch(msg *queue.TaskMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tasks.Push(ctx, msg); err != nil {
		log.Printf("Failed to dispatch %s task: %v", msg.Type, err)
	}
}
