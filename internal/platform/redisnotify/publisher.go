// Package redisnotify mirrors task snapshots onto Redis pub/sub channels
// so out-of-process consumers (WebSocket gateways, other services) can
// follow task progress without talking to this process directly.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/webtoonlab/panelgen/internal/domain"
)

// Publisher is a snapshot listener that publishes every snapshot as JSON
// on the channel "<prefix>:<taskID>".
type Publisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewPublisher creates a publisher on the given client. prefix defaults to
// "task" when empty.
func NewPublisher(client *redis.Client, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "task"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_notifier"),
	}
}

// OnSnapshot publishes the snapshot. Publish is fire-and-forget: nobody
// listening is not an error.
func (p *Publisher) OnSnapshot(ctx context.Context, snapshot *domain.GenerationTask) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal task snapshot: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", p.prefix, snapshot.ID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot on %s: %w", channel, err)
	}

	p.logger.DebugContext(ctx, "snapshot published",
		"channel", channel,
		"status", snapshot.Status)
	return nil
}
