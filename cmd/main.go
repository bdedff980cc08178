package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"heron/internal/api"
	"heron/internal/config"
	"heron/internal/db"
	"heron/internal/engine"
	"heron/internal/handlers"
	"heron/internal/mailer"
	"heron/internal/services"
	"heron/internal/spreadsheet"
	"heron/internal/tasks"
	"heron/internal/utils"
	"heron/internal/utils/crypto"
	"heron/internal/utils/logger"
)

func main() {
	mainLog := logger.New("heron")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		mainLog.Info("No .env file found, skipping environment variable loading")
	} else {
		mainLog.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize keys
	if err := crypto.InitializeKeys(cfg.Crypto.SecretKey); err != nil {
		log.Fatalf("Failed to initialize keys: %v", err)
	}

	// Connect to database
	if err := db.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			mainLog.Error("Failed to close database connection", err)
		}
	}()

	redisClient, err := utils.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	dbInstance := db.GetDB()

	// Shared collaborators
	transport := mailer.NewSMTPTransport(cfg.Mailer)
	store := spreadsheet.NewStore()
	taskClient := tasks.NewTaskClient(cfg.Redis)
	defer taskClient.Close()

	campaignService := services.NewCampaignService(dbInstance, store, taskClient)
	campaignEngine := engine.New(dbInstance, transport, store, cfg.Engine)

	// Task processing
	taskHandler := tasks.NewTaskHandler(campaignEngine, logger.Zap())
	taskServer := tasks.NewServer(cfg.Redis, taskHandler, logger.Zap())
	if err := taskServer.Start(); err != nil {
		log.Fatalf("Failed to start task server: %v", err)
	}

	taskScheduler := tasks.NewScheduler(cfg.Redis, cfg.Engine)
	go func() {
		if err := taskScheduler.Start(); err != nil {
			mainLog.Error("Task scheduler error", err)
		}
	}()

	// HTTP control surface
	apiServer := api.NewServer(
		cfg,
		dbInstance,
		redisClient,
		handlers.NewCampaignHandler(campaignService),
		handlers.NewUploadHandler(cfg.Storage.UploadDir),
		handlers.NewCredentialHandler(transport),
	)
	go func() {
		if err := apiServer.Start(); err != nil {
			mainLog.Error("API server error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskScheduler.Stop()
	taskServer.Shutdown()

	if err := apiServer.Shutdown(ctx); err != nil {
		mainLog.Error("Failed to shutdown API server", err)
	}

	mainLog.Info("Servers shutdown gracefully")
}
