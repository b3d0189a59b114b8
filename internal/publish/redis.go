// internal/publish/redis.go
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

const (
	DefaultChannelPrefix = "prices"
	DefaultLatestTTL     = 60 * time.Second
)

// RedisConfig configures the redis sink.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	TTL           time.Duration
}

// RedisPublisher streams prices to redis pub/sub and keeps the latest price per mint
// under an expiring key.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher creates a publisher with its own client.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	return NewRedisPublisherWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.ChannelPrefix, cfg.TTL)
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	return &RedisPublisher{client: client, prefix: prefix, ttl: ttl}
}

// AllChannel carries every price.
func (p *RedisPublisher) AllChannel() string { return p.prefix + ":all" }

// MintChannel carries prices of one mint.
func (p *RedisPublisher) MintChannel(mint string) string { return p.prefix + ":" + mint }

// LatestKey holds the last published price of a mint.
func (p *RedisPublisher) LatestKey(mint string) string { return p.prefix + ":latest:" + mint }

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, res *model.PriceResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal price: %w", err)
	}

	mint := res.Mint.String()
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.AllChannel(), data)
	pipe.Publish(ctx, p.MintChannel(mint), data)
	pipe.Set(ctx, p.LatestKey(mint), data, p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", mint, err)
	}
	return nil
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
