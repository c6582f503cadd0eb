package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each stream; XADD trims approximately past it.
const streamMaxLen = 100_000

// RedisStreamPublisher appends relay messages to Redis streams, one stream per topic.
type RedisStreamPublisher struct {
	client *redis.Client
}

// NewRedisClient parses url and checks connectivity.
func NewRedisClient(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", "addr", opts.Addr)
	return client, nil
}

// NewRedisStreamPublisher creates a stream publisher.
func NewRedisStreamPublisher(client *redis.Client) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client}
}

// Name identifies the sink in relay logs.
func (p *RedisStreamPublisher) Name() string { return "redis" }

// Publish adds msg to the stream named after its topic.
func (p *RedisStreamPublisher) Publish(ctx context.Context, msg RelayMessage) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Topic,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":       string(msg.Value),
			"key":        string(msg.Key),
			"event_id":   msg.EventID,
			"event_type": msg.EventType,
		},
	}).Err()
}
