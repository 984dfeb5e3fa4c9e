package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the sink uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisSink publishes each event as JSON on a pub/sub channel and keeps
// the most recent events in a capped list for late subscribers.
type RedisSink struct {
	client  RedisClient
	channel string
	backlog int64
}

// NewRedisSink creates a sink publishing on channel. backlog <= 0 disables
// the replay list.
func NewRedisSink(client RedisClient, channel string, backlog int64) *RedisSink {
	if channel == "" {
		channel = "payroute:audit"
	}
	return &RedisSink{client: client, channel: channel, backlog: backlog}
}

func (s *RedisSink) Name() string { return "redis" }

// BacklogKey is the list holding recent events.
func (s *RedisSink) BacklogKey() string { return s.channel + ":backlog" }

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event %d: %w", e.Seq, err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("audit: redis publish: %w", err)
	}
	if s.backlog <= 0 {
		return nil
	}
	if err := s.client.RPush(ctx, s.BacklogKey(), data).Err(); err != nil {
		return fmt.Errorf("audit: redis backlog push: %w", err)
	}
	return s.client.LTrim(ctx, s.BacklogKey(), -s.backlog, -1).Err()
}

// NewRedisClient connects to a Redis URL ("redis://host:6379/0") or a bare
// host:port and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("audit: parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("audit: redis ping: %w", err)
	}
	return client, nil
}
