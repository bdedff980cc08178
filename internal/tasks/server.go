package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"heron/internal/config"
)

// Server handles task processing
type Server struct {
	server  *asynq.Server
	handler *TaskHandler
	logger  *zap.Logger
}

// NewServer creates a new task processing server
func NewServer(cfg config.RedisConfig, handler *TaskHandler, logger *zap.Logger) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			// One worker per job kind is plenty; the dispatch loop is
			// sequential per campaign and the pollers fire rarely.
			Concurrency: 3,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			StrictPriority: true,
		},
	)

	return &Server{
		server:  server,
		handler: handler,
		logger:  logger,
	}
}

// Start starts the task processing server
func (s *Server) Start() error {
	mux := asynq.NewServeMux()

	mux.HandleFunc(TaskTypeCampaignDispatch, s.handler.HandleCampaignDispatch)
	mux.HandleFunc(TaskTypeReplyCheck, s.handler.HandleReplyCheck)
	mux.HandleFunc(TaskTypeFollowupSend, s.handler.HandleFollowupSend)

	s.logger.Info("starting task processing server",
		zap.Int("concurrency", 3),
		zap.Any("queues", map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		}),
	)

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	return nil
}

// Stop stops the task processing server
func (s *Server) Stop() {
	s.server.Stop()
	s.logger.Info("task processing server stopped")
}

// Shutdown gracefully shuts down the task processing server
func (s *Server) Shutdown() {
	s.logger.Info("shutting down task processing server")
	s.server.Shutdown()
}
