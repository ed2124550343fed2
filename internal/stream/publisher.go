// Package stream publishes completed rounds to Redis Pub/Sub so external
// dashboards can follow a run live.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/floodsim/internal/engine"
)

// Publisher publishes snapshots to a run-specific Redis channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// Channel returns the channel name snapshots of runID are published on.
func Channel(runID string) string {
	return fmt.Sprintf("floodsim:%s:ticks", runID)
}

// NewPublisher connects to redisURL and verifies the connection.
func NewPublisher(ctx context.Context, redisURL, runID string, logger *slog.Logger) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{rdb: rdb, channel: Channel(runID), logger: logger}
	logger.Info("connected to redis for snapshot streaming", "channel", p.channel)
	return p, nil
}

// Publish sends one snapshot as JSON.
func (p *Publisher) Publish(ctx context.Context, snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Error("failed to publish snapshot", "error", err, "channel", p.channel, "tick", snap.Tick)
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.Debug("snapshot published", "channel", p.channel, "tick", snap.Tick)
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
