package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/amirphl/ha-trader/internal/journal"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher publishes every journal event as JSON on a pub/sub channel
// and keeps the latest one under "<channel>:latest".
type RedisPublisher struct {
	client  redisPublisher
	closer  func() error
	channel string
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(cfg RedisConfig, logger *log.Logger) (*RedisPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Printf("RedisPublisher | Connected to %s, publishing on %s", cfg.Addr, cfg.Channel)
	return &RedisPublisher{client: client, closer: client.Close, channel: cfg.Channel}, nil
}

func (p *RedisPublisher) Record(ctx context.Context, e journal.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", e.Seq, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event %d: %w", e.Seq, err)
	}
	if err := p.client.Set(ctx, p.channel+":latest", data, 0).Err(); err != nil {
		return fmt.Errorf("store latest event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
