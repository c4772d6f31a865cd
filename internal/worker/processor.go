package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/queue"
	"github.com/qs3c/storyvoice_go_server/internal/pkg/retry"
	"github.com/qs3c/storyvoice_go_server/internal/service"
)

// Processor 类型化任务处理器。
// 服务层把终态失败就地落库并返回 nil；返回非 nil 的错误一律视为
// 瞬时错误，按指数退避重投，直到 max_retries 耗尽后进入死信处理。
type Processor struct {
	slotSvc   *service.SlotService
	audioSvc  *service.AudioService
	creditSvc *service.CreditService
	tasks     *queue.TaskQueue
	cfg       *config.Config
}

func NewProcessor(
	slotSvc *service.SlotService,
	audioSvc *service.AudioService,
	creditSvc *service.CreditService,
	tasks *queue.TaskQueue,
	cfg *config.Config,
) *Processor {
	return &Processor{
		slotSvc:   slotSvc,
		audioSvc:  audioSvc,
		creditSvc: creditSvc,
		tasks:     tasks,
		cfg:       cfg,
	}
}

// Process 执行一条任务
func (p *Processor) Process(ctx context.Context, msg *queue.TaskMessage) error {
	var err error
	switch msg.Type {
	case queue.TaskAllocate:
		err = p.slotSvc.Allocate(ctx, msg.VoiceID)
	case queue.TaskSynthesize:
		err = p.audioSvc.Synthesize(ctx, msg.JobID)
	case queue.TaskProcessQueue:
		err = p.processQueue(ctx, msg.Provider)
	case queue.TaskReclaimIdle:
		err = p.reclaimIdle(ctx, msg.Provider)
	case queue.TaskExpireLots:
		_, err = p.creditSvc.ExpireNow(nil, time.Now().UTC())
	default:
		log.Printf("Unknown task type %q, dropping", msg.Type)
		return nil
	}

	if err == nil {
		return nil
	}
	// 任务被取消时不重投也不判死：进程重启后队列里还有同类触发
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return p.retryOrDeadLetter(ctx, msg, err)
}

// retryOrDeadLetter 瞬时错误重投；次数耗尽后做终态处理并冲销
func (p *Processor) retryOrDeadLetter(ctx context.Context, msg *queue.TaskMessage, cause error) error {
	nextAttempt := msg.Attempt + 1
	if nextAttempt < p.cfg.Worker.MaxRetries {
		delay := retry.Delay(
			time.Duration(p.cfg.Worker.RetryBaseSeconds)*time.Second,
			time.Duration(p.cfg.Worker.RetryMaxSeconds)*time.Second,
			0.2,
			msg.Attempt,
		)
		log.Printf("Task %s (%s) attempt %d failed: %v, retrying in %s",
			msg.ID, msg.Type, msg.Attempt, cause, delay)
		return p.tasks.PushDelayed(ctx, &queue.TaskMessage{
			Type:     msg.Type,
			VoiceID:  msg.VoiceID,
			JobID:    msg.JobID,
			Provider: msg.Provider,
			Attempt:  nextAttempt,
		}, delay, time.Now().UTC())
	}

	log.Printf("Task %s (%s) exhausted %d retries: %v", msg.ID, msg.Type, p.cfg.Worker.MaxRetries, cause)
	switch msg.Type {
	case queue.TaskSynthesize:
		// 任务判死并冲销借记（账本保证冲销幂等）
		p.audioSvc.FailJob(msg.JobID, fmt.Sprintf("synthesis failed after %d retries: %v", p.cfg.Worker.MaxRetries, cause))
	case queue.TaskAllocate:
		p.slotSvc.AbortAllocation(msg.VoiceID, fmt.Sprintf("allocation failed after %d retries: %v", p.cfg.Worker.MaxRetries, cause))
	}
	return nil
}

// processQueue 省略 provider 时处理所有已配置服务商
func (p *Processor) processQueue(ctx context.Context, providerName string) error {
	for _, name := range p.providers(providerName) {
		if _, err := p.slotSvc.ProcessQueue(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) reclaimIdle(ctx context.Context, providerName string) error {
	for _, name := range p.providers(providerName) {
		evicted, err := p.slotSvc.ReclaimIdle(ctx, name)
		if err != nil {
			return err
		}
		if evicted > 0 {
			log.Printf("Reclaimed %d idle slots on %s", evicted, name)
		}
	}
	return nil
}

func (p *Processor) providers(providerName string) []string {
	if providerName != "" {
		return []string{providerName}
	}
	return p.slotSvc.Providers()
}

// Run 启动 worker 循环，阻塞直到 ctx 取消
func (p *Processor) Run(ctx context.Context) {
	maxWorkers := p.cfg.Worker.MaxWorkers
	log.Printf("Worker started, max workers: %d", maxWorkers)

	for i := 0; i < maxWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					msg, err := p.tasks.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop task: %v", workerID, err)
						continue
					}
					if msg == nil {
						continue // 超时，继续等待
					}

					if err := p.Process(ctx, msg); err != nil && ctx.Err() == nil {
						log.Printf("Worker %d: task %s failed: %v", workerID, msg.ID, err)
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
}
