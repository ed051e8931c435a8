package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"price-tracker/config"
	"price-tracker/internal/api"
	"price-tracker/internal/broker"
	"price-tracker/internal/extractor"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/notify"
	"price-tracker/internal/redisclient"
	"price-tracker/internal/service"
	"price-tracker/internal/store"
	"price-tracker/internal/util"
	"price-tracker/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting price tracker")

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName:    "price-tracker",
		ServiceVersion: cfg.Observ.ServiceVersion,
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	if err := db.Migrate(context.Background(), logger); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicPriceEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	pageFetcher := fetcher.NewHTTPFetcher(fetcher.Options{
		Timeout:       cfg.Scraper.FetchTimeout,
		MaxAttempts:   cfg.Scraper.MaxAttempts,
		RatePerSecond: cfg.Scraper.RatePerSecond,
		UserAgent:     cfg.Scraper.UserAgent,
	})

	dispatcher, err := newDispatcher(cfg.Notify, logger)
	if err != nil {
		log.Fatalf("Failed to initialize notifications: %v", err)
	}

	pipeline := service.NewPipeline(
		db,
		redisClient,
		pageFetcher,
		extractor.NewDefault(),
		dispatcher,
		eventPublisher,
		cfg.Refresh.LockTTL,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	refreshConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents, cfg.Kafka.ConsumerGroup)
	refreshWorker := worker.NewRefreshWorker(refreshConsumer, db, pipeline)
	go func() {
		if err := refreshWorker.Start(workerCtx); err != nil {
			logger.Error("Refresh worker error", zap.Error(err))
		}
	}()

	if cfg.Refresh.Interval > 0 {
		scheduler := worker.NewScheduler(db, eventPublisher, cfg.Refresh.Interval)
		go scheduler.Run(workerCtx)
	} else {
		logger.Info("Scheduler disabled")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(pipeline, db, redisClient, map[string]api.HealthCheck{
		"database": db.Ping,
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := refreshWorker.Stop(); err != nil {
		logger.Error("Failed to stop refresh worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newDispatcher wires only the transports that have credentials configured
func newDispatcher(cfg config.NotificationConfig, logger *zap.Logger) (*notify.Dispatcher, error) {
	renderer, err := notify.NewRenderer(cfg.SMTP.SenderName)
	if err != nil {
		return nil, err
	}

	var email notify.EmailSender
	if cfg.SMTP.SenderEmail != "" {
		email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:       cfg.SMTP.Server,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.SenderEmail,
			Password:   cfg.SMTP.SenderPassword,
			SenderName: cfg.SMTP.SenderName,
		})
	} else {
		logger.Warn("SENDER_EMAIL not set, email channel disabled")
	}

	var sms notify.SMSSender
	if cfg.Twilio.AccountSID != "" {
		sms = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			PhoneNumber: cfg.Twilio.PhoneNumber,
			BaseURL:     cfg.Twilio.BaseURL,
		}, cfg.Timeout)
	} else {
		logger.Warn("TWILIO_ACCOUNT_SID not set, SMS channel disabled")
	}

	return notify.NewDispatcher(email, sms, renderer, notify.Config{
		EmailEnabled: cfg.EmailEnabled,
		SMSEnabled:   cfg.SMSEnabled,
		Timeout:      cfg.Timeout,
	}), nil
}
