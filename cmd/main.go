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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskhub/internal/api"
	"taskhub/internal/auth"
	"taskhub/internal/config"
	"taskhub/internal/consumer"
	"taskhub/internal/dispatcher"
	"taskhub/internal/messaging"
	"taskhub/internal/metrics"
	"taskhub/internal/publisher"
	"taskhub/internal/storage"
	"taskhub/internal/task"
)

// @title Tenant Task API
// @version 1.0
// @description Multi-tenant task management API with async event fan-out
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", cfgPath))

	// Init Storage
	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("storage connected", zap.String("driver", cfg.Storage.Driver))

	// Init verification key set and verifier
	keys := auth.NewJWKSCache(cfg.Auth.JWKSURL, cfg.Auth.KeyTTL.Std(), logger)
	verifier := auth.NewTokenVerifier(keys, cfg.Auth.Issuer, cfg.Auth.Audience)

	// Init RabbitMQ
	rabbit, err := messaging.NewRabbitClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		logger.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbit.Close()
	logger.Info("RabbitMQ connected", zap.String("exchange", cfg.RabbitMQ.Exchange))

	// Async event publisher
	pub := publisher.New(rabbit, logger, cfg.Publisher.Buffer, cfg.Publisher.MaxAttempts, cfg.Publisher.MaxInterval.Std())

	// Downstream fan-out consumers
	disp := dispatcher.New(rabbit.GetConnection(), rabbit, store, cfg.Consumers.Workers, logger)
	handlers := []consumer.Handler{
		&consumer.AuditHandler{Store: store},
		&consumer.NotificationHandler{Store: store},
		&consumer.AnalyticsHandler{Store: store},
	}
	for _, h := range handlers {
		if err := disp.Register(h); err != nil {
			logger.Fatal("failed to register consumer", zap.String("consumer", h.Name()), zap.Error(err))
		}
	}

	// Graceful Shutdown Setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys.StartAutoRefresh(ctx, cfg.Auth.RefreshInterval.Std())
	defer keys.Stop()

	// Background loop for queue depth metrics
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range disp.ConsumerNames() {
					rabbit.UpdateQueueDepth(name)
				}
			}
		}
	}()

	// Init API
	engine := task.NewEngine(store, logger)
	apiHandler := api.NewAPI(engine, pub, verifier, logger)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiHandler.Router(),
	}

	go func() {
		logger.Info("starting API server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	logger.Info("shutdown initiated")

	// Shutdown sequence: stop intake, then consumers, then the outbox.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", zap.Error(err))
	}

	disp.ShutdownAll()
	pub.Close()

	logger.Info("graceful shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func newStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.Postgres.URL, logger)
	case "bolt":
		return storage.NewBoltStore(cfg.Storage.Bolt.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
