package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/communication"
	"github.com/verihub/verification-backend/internal/config"
	"github.com/verihub/verification-backend/internal/notifications"
	"github.com/verihub/verification-backend/internal/risk"
	"github.com/verihub/verification-backend/internal/templates"
	"github.com/verihub/verification-backend/internal/verification"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to database
	dbURL := cfg.Database.GetDatabaseURL()
	logger.Info("Connecting to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Notification queue client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize Verification Module
	processStore := verification.NewPostgresStore(db)
	messageStore := communication.NewPostgresStore(db)
	commLog := communication.NewLog(messageStore, processStore, logger)
	templateStore, err := templates.NewStore(db)
	if err != nil {
		logger.Fatal("Failed to initialize template store", zap.Error(err))
	}
	riskProvider := risk.NewHTTPProvider(cfg.Risk.BaseURL,
		time.Duration(cfg.Risk.TimeoutSeconds)*time.Second, logger)
	dispatcher := notifications.NewDispatcher(asynqClient)

	engine := verification.NewEngine(processStore, commLog, dispatcher, templateStore,
		riskProvider, cfg.Verification.RejectionReasons, logger)
	bulk := verification.NewBulkCoordinator(engine, cfg.Verification.BulkConcurrency, logger)

	verificationHandler := verification.NewHandler(engine, bulk, cfg.Verification.DefaultPageSize, logger)
	communicationHandler := communication.NewHandler(commLog, logger)

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Admin-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	{
		verificationHandler.RegisterRoutes(api)
		communicationHandler.RegisterRoutes(api)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:    cfg.Server.GetServerAddr(),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen: %s\n", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.Int("port", cfg.Server.Port))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown:", zap.Error(err))
	}

	logger.Info("Server exiting")
}
