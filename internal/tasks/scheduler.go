package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"heron/internal/config"
	"heron/internal/utils/logger"
)

// Scheduler registers the two periodic jobs: the reply poller and the
// follow-up escalator. Both run against whatever campaign is RUNNING when
// they fire, so their payloads stay empty.
type Scheduler struct {
	scheduler *asynq.Scheduler
	engineCfg config.EngineConfig
	logger    *logger.Logger
}

// NewScheduler creates a new task scheduler
func NewScheduler(redisCfg config.RedisConfig, engineCfg config.EngineConfig) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Username: redisCfg.Username,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		&asynq.SchedulerOpts{},
	)

	return &Scheduler{
		scheduler: scheduler,
		engineCfg: engineCfg,
		logger:    logger.New("SCHEDULER"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if err := s.registerTasks(); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	s.logger.Info("starting task scheduler")
	return s.scheduler.Run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.logger.Info("task scheduler stopped")
}

// registerTasks registers all periodic tasks
func (s *Scheduler) registerTasks() error {
	replySpec := fmt.Sprintf("@every %s", s.engineCfg.ReplyPollInterval)
	if _, err := cron.ParseStandard(replySpec); err != nil {
		return fmt.Errorf("invalid reply poll interval: %w", err)
	}
	entryID, err := s.scheduler.Register(replySpec, asynq.NewTask(
		TaskTypeReplyCheck,
		nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutMedium),
	))
	if err != nil {
		return fmt.Errorf("failed to register reply poller: %w", err)
	}
	s.logger.Debug("registered reply poller %s (%s)", entryID, replySpec)

	followupSpec := fmt.Sprintf("@every %s", s.engineCfg.FollowupPollInterval)
	if _, err := cron.ParseStandard(followupSpec); err != nil {
		return fmt.Errorf("invalid follow-up poll interval: %w", err)
	}
	entryID, err = s.scheduler.Register(followupSpec, asynq.NewTask(
		TaskTypeFollowupSend,
		nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutLong),
	))
	if err != nil {
		return fmt.Errorf("failed to register follow-up escalator: %w", err)
	}
	s.logger.Debug("registered follow-up escalator %s (%s)", entryID, followupSpec)

	s.logger.Info("registered all periodic tasks")
	return nil
}
