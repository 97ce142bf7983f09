// Package events reads the listing events the outbox relay publishes to
// Redis streams.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/olx-listing-scraper/internal/database"
)

// StreamClient is the part of the redis client a Consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ListingSaved is one decoded LISTING_SAVED event.
type ListingSaved struct {
	MessageID string
	EventID   string
	Payload   database.ListingSavedPayload
}

// Handler processes one event. Returning an error leaves the message
// unacknowledged so it stays in the group's pending list.
type Handler func(ctx context.Context, ev ListingSaved) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Batch    int64
	Block    time.Duration
	RetryGap time.Duration
}

type Consumer struct {
	client  StreamClient
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.ListingStream
	}
	if cfg.Group == "" {
		cfg.Group = "listing-consumer-group"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Batch == 0 {
		cfg.Batch = 10
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.RetryGap == 0 {
		cfg.RetryGap = time.Second
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "consumer", "stream", cfg.Stream),
	}
}

// Run reads the stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "name", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Batch,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryGap):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	ev, err := Decode(msg)
	if err != nil {
		if errors.Is(err, errOtherEvent) {
			c.ack(ctx, msg.ID)
			return
		}
		c.logger.Error("failed to decode message", "message_id", msg.ID, "error", err)
		return
	}

	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("failed to handle event", "message_id", msg.ID, "site_id", ev.Payload.SiteID, "error", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "message_id", id, "error", err)
	}
}

var errOtherEvent = errors.New("not a listing event")

type envelope struct {
	ID      string                       `json:"id"`
	Type    string                       `json:"type"`
	Payload database.ListingSavedPayload `json:"payload"`
}

// Decode parses a stream message written by the outbox relay.
func Decode(msg redis.XMessage) (ListingSaved, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != database.EventListingSaved {
		return ListingSaved{}, fmt.Errorf("%w: %q", errOtherEvent, eventType)
	}

	raw, ok := msg.Values["data"].(string)
	if !ok {
		return ListingSaved{}, fmt.Errorf("missing data field")
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return ListingSaved{}, fmt.Errorf("failed to parse data: %w", err)
	}
	if env.Payload.SiteID == "" {
		return ListingSaved{}, fmt.Errorf("missing site_id in payload")
	}

	return ListingSaved{
		MessageID: msg.ID,
		EventID:   env.ID,
		Payload:   env.Payload,
	}, nil
}
