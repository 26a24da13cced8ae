package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grass-leaderboard/internal/classifier"
	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/handler"
	"github.com/grass-leaderboard/internal/kafka"
	"github.com/grass-leaderboard/internal/leaderboard"
	"github.com/grass-leaderboard/internal/postgres"
	"github.com/grass-leaderboard/internal/redis"
	"github.com/grass-leaderboard/internal/service"
	"github.com/grass-leaderboard/internal/storage"
	"github.com/grass-leaderboard/internal/websocket"
	"github.com/grass-leaderboard/internal/worker"
)

func newLogger(cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	logger := newLogger(&config.DefaultConfig().Log)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	} else {
		logger = newLogger(&cfg.Log)
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The leaderboard lives only in this process
	board := leaderboard.New(cfg.Leaderboard.Size)

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to initialize image storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	logger.Info("image storage ready", "driver", cfg.Storage.Driver)

	cls, err := classifier.New(&cfg.Classifier, logger)
	if err != nil {
		logger.Error("failed to initialize classifier", "provider", cfg.Classifier.Provider, "error", err)
		os.Exit(1)
	}
	logger.Info("grass classifier ready", "provider", cfg.Classifier.Provider)

	// Optional Redis cache in front of the classifier
	var cache *redis.ClassificationCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err = redis.NewClassificationCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without classification cache", "error", err)
		} else {
			defer cache.Close()
			cls = cache.Wrap(cls)
			logger.Info("connected to Redis")
		}
	}

	ingest := service.NewIngestService(board, cls, store, &cfg.Classifier, logger)

	// Optional PostgreSQL audit log
	var auditRepo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		auditRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Warn("failed to connect to PostgreSQL, continuing without audit log", "error", err)
			auditRepo = nil
		} else if err := auditRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			auditRepo.Close()
			os.Exit(1)
		} else {
			defer auditRepo.Close()
			ingest.SetAudit(auditRepo)
			logger.Info("connected to PostgreSQL")
		}
	}

	// WebSocket hub for live leaderboard updates
	wsHub := websocket.NewHub(logger)
	wsHub.SetSnapshot(board.Entries)
	go wsHub.Run()
	ingest.SetNotifier(wsHub)
	logger.Info("WebSocket hub initialized")

	// Image reaper removes photos of evicted entries
	var reaper *worker.ImageReaper
	if cfg.Reaper.Enabled {
		reaper = worker.NewImageReaper(store, board.References, &cfg.Reaper, logger)
		if err := reaper.Start(ctx); err != nil {
			logger.Error("failed to start image reaper", "error", err)
			os.Exit(1)
		}
		ingest.SetReaper(reaper)
	}

	// Optional Kafka ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ingest, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler, err := handler.NewHandler(ingest, wsHub, &cfg.Server, board.Capacity(), logger)
	if err != nil {
		logger.Error("failed to initialize HTTP handler", "error", err)
		os.Exit(1)
	}
	if local, ok := store.(*storage.LocalStore); ok {
		httpHandler.ServeUploads(local.URLPrefix(), local.Dir())
	}
	if cache != nil {
		httpHandler.AddReadinessCheck("redis", cache.Ping)
	}
	if auditRepo != nil {
		httpHandler.AddReadinessCheck("postgres", auditRepo.Ping)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "leaderboard_size", board.Capacity())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
	defer shutdownCancel()

	// Stop accepting submissions first so no new evictions are queued
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	wsHub.Stop()

	if reaper != nil {
		if err := reaper.Stop(); err != nil {
			logger.Error("failed to stop image reaper", "error", err)
		}
	}

	logger.Info("server stopped")
}
