package main

import (
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/communication"
	"github.com/verihub/verification-backend/internal/config"
	"github.com/verihub/verification-backend/internal/notifications"
	"github.com/verihub/verification-backend/internal/verification"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	_ = godotenv.Load()
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	processStore := verification.NewPostgresStore(db)
	messageStore := communication.NewPostgresStore(db)
	commLog := communication.NewLog(messageStore, processStore, logger)

	channel := notifications.NewLogChannel(logger)
	processor := notifications.NewProcessor(commLog, channel, logger)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
		},
	)

	logger.Info("Delivery worker started", zap.String("redis", cfg.Redis.Addr))
	if err := srv.Run(processor.Handler()); err != nil {
		logger.Fatal("Worker stopped", zap.Error(err))
	}
}
