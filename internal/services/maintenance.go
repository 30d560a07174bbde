package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/robfig/cron/v3"
)

// MaintenanceService runs housekeeping for download tokens and system logs,
// either from its own cron schedule or on demand.
type MaintenanceService struct {
	tokens *DownloadTokenService
	logs   *SystemLogService
	queue  TaskQueue
	cfg    *config.MaintenanceConfig

	mu        sync.Mutex
	scheduler *cron.Cron
}

func NewMaintenanceService(tokens *DownloadTokenService, logs *SystemLogService, queue TaskQueue, cfg *config.MaintenanceConfig) *MaintenanceService {
	return &MaintenanceService{tokens: tokens, logs: logs, queue: queue, cfg: cfg}
}

// Process executes task in the calling goroutine. It is the processor for
// both queue implementations.
func (s *MaintenanceService) Process(ctx context.Context, task *MaintenanceTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch task.Type {
	case TaskTypeTokenCleanup:
		res, err := s.tokens.CleanupExpired()
		if err != nil {
			return err
		}
		if res.Deactivated > 0 || res.Deleted > 0 {
			LogInfo("maintenance", "tokens_cleanup",
				fmt.Sprintf("deactivated %d expired tokens, deleted %d old tokens", res.Deactivated, res.Deleted),
				nil, "", "", map[string]string{"trigger": task.Trigger})
		}
		return nil
	case TaskTypeLogCleanup:
		_, err := s.logs.RunCleanup()
		return err
	default:
		return fmt.Errorf("unknown maintenance task %q", task.Type)
	}
}

// Trigger queues a task of the given type.
func (s *MaintenanceService) Trigger(taskType, trigger string) error {
	if taskType != TaskTypeTokenCleanup && taskType != TaskTypeLogCleanup {
		return ErrInvalidParameters
	}
	return s.queue.Enqueue(NewMaintenanceTask(taskType, trigger))
}

// Start registers the cron entries. It is a no-op when maintenance is
// disabled.
func (s *MaintenanceService) Start() error {
	if !s.cfg.Enabled {
		logger.Infof("[Maintenance] Scheduler disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	c := cron.New()
	jobs := map[string]string{
		TaskTypeTokenCleanup: s.cfg.TokenCleanupCron,
		TaskTypeLogCleanup:   s.cfg.LogCleanupCron,
	}
	for taskType, spec := range jobs {
		if spec == "" {
			continue
		}
		taskType := taskType
		if _, err := c.AddFunc(spec, func() {
			if err := s.Trigger(taskType, "cron"); err != nil {
				logger.Errorf("[Maintenance] Failed to enqueue %s: %v", taskType, err)
			}
		}); err != nil {
			return fmt.Errorf("invalid cron spec %q for %s: %w", spec, taskType, err)
		}
		logger.Infof("[Maintenance] Scheduled %s (cron: %s)", taskType, spec)
	}

	c.Start()
	s.scheduler = c
	return nil
}

func (s *MaintenanceService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
		s.scheduler = nil
	}
}
