package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"heron/internal/config"
	"heron/internal/utils/logger"
)

// TaskClient enqueues campaign work onto the queue. It is the only way the
// control surface reaches the engine; there is no in-memory handoff.
type TaskClient struct {
	client *asynq.Client
	logger *logger.Logger
}

// NewTaskClient creates a new TaskClient with the given Redis configuration
func NewTaskClient(cfg config.RedisConfig) *TaskClient {
	return &TaskClient{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger: logger.New("TASKS"),
	}
}

// Close closes the underlying asynq client
func (c *TaskClient) Close() error {
	return c.client.Close()
}

// EnqueueDispatch enqueues the dispatch loop for a campaign. The task is
// unique per campaign while in flight, so launch and resume can both call
// this without ever producing two concurrent loops for the same campaign.
func (c *TaskClient) EnqueueDispatch(ctx context.Context, campaignID string) error {
	payload, err := json.Marshal(DispatchTask{CampaignID: campaignID})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskTypeCampaignDispatch, payload),
		asynq.Queue(QueueCritical),
		asynq.Timeout(TimeoutLong),
		asynq.MaxRetry(RetryDefault),
		asynq.Unique(TimeoutLong),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			c.logger.Info("dispatch loop already queued for campaign %s", campaignID)
			return nil
		}
		return fmt.Errorf("failed to enqueue dispatch task: %w", err)
	}

	c.logger.Info("enqueued dispatch task [%s] in queue %s for campaign %s",
		info.ID, info.Queue, campaignID)
	return nil
}
