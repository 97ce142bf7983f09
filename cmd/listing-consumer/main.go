package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/olx-listing-scraper/internal/config"
	"github.com/maltedev/olx-listing-scraper/internal/events"
	"github.com/maltedev/olx-listing-scraper/pkg/logger"
)

// listing-consumer tails the listing stream and logs every saved listing.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: os.Getenv("REDIS_STREAM"),
		Name:   hostname,
	}, func(ctx context.Context, ev events.ListingSaved) error {
		log.Info("listing saved",
			"site_id", ev.Payload.SiteID,
			"product_id", ev.Payload.ProductID,
			"url", ev.Payload.ProductURL,
			"message_id", ev.MessageID)
		return nil
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer stopped")
}
