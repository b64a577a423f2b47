package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a per-user channel.
type RedisSink struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  logging.Logger
}

// NewRedisSink connects using a redis:// URL and pings the server.
func NewRedisSink(ctx context.Context, url string, logger logging.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSinkFromClient(client, logger), nil
}

func NewRedisSinkFromClient(client redis.UniversalClient, logger logging.Logger) *RedisSink {
	return &RedisSink{client: client, prefix: "upload:user:", timeout: 2 * time.Second, logger: logger.With("module", "notify")}
}

// Channel returns the pub/sub channel for a user.
func (s *RedisSink) Channel(userID string) string {
	return s.prefix + userID
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(ctx, "encode event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.Channel(ev.UserID), payload).Err(); err != nil {
		s.logger.Warn(ctx, "redis publish", "task_id", ev.TaskID, "error", err)
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
