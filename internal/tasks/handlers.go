package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"heron/internal/engine"
)

// TaskHandler routes queued tasks into the campaign engine.
type TaskHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(eng *engine.Engine, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		engine: eng,
		logger: logger,
	}
}

// HandleCampaignDispatch runs the dispatch loop for one campaign.
func (h *TaskHandler) HandleCampaignDispatch(ctx context.Context, t *asynq.Task) error {
	var task DispatchTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal dispatch task: %w", asynq.SkipRetry)
	}

	h.logger.Info("processing dispatch task",
		zap.String("campaign_id", task.CampaignID),
	)
	return h.engine.RunDispatch(ctx, task.CampaignID)
}

// HandleReplyCheck runs one inbox scan for the running campaign.
func (h *TaskHandler) HandleReplyCheck(ctx context.Context, t *asynq.Task) error {
	h.logger.Info("processing reply check task")
	return h.engine.RunReplyCheck(ctx)
}

// HandleFollowupSend runs one follow-up escalation pass.
func (h *TaskHandler) HandleFollowupSend(ctx context.Context, t *asynq.Task) error {
	h.logger.Info("processing follow-up task")
	return h.engine.RunFollowups(ctx)
}
