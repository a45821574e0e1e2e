package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/tiktok-product-scout/internal/config"
	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/events"
	"github.com/maltedev/tiktok-product-scout/pkg/logger"
)

// scout-consumer reads CANDIDATE_SCORED events from the candidate stream and
// tracks every product whose best score reaches AUTO_TRACK_MIN_SCORE, so the
// detail worker keeps refreshing it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL(),
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Consumer.Group,
		Consumer: cfg.Consumer.Name,
	}, events.AutoTrack(database.NewProductRepository(db), cfg.Consumer.AutoTrackMinScore, logger), logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", "error", err)
		db.Close()
		os.Exit(1)
	}
}
