// Package cache holds the Redis-backed webhook replay guard.
package cache

import (
	"context"
	"fmt"
	"time"

	"whatsapp-crm/pkg/logging"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "whatsapp:inbound:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// New connects to redisURL and checks the connection.
func New(redisURL string, ttl time.Duration, logger *logging.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return NewWithClient(client, ttl, logger), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// FirstDelivery claims a provider message id. It returns false when the id
// was already claimed within the TTL. Redis failures let the event through.
// A nil Cache claims everything.
func (c *Cache) FirstDelivery(ctx context.Context, messageID string) bool {
	if c == nil || messageID == "" {
		return true
	}
	ok, err := c.client.SetNX(ctx, keyPrefix+messageID, time.Now().Unix(), c.ttl).Result()
	if err != nil {
		c.logger.Warn("cache: replay check failed, processing anyway", "message_id", messageID, "error", err)
		return true
	}
	return ok
}

// Forget releases a claimed id so a later redelivery is processed again.
func (c *Cache) Forget(ctx context.Context, messageID string) error {
	if c == nil || messageID == "" {
		return nil
	}
	return c.client.Del(ctx, keyPrefix+messageID).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
