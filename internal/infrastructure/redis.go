package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restobot/internal/config"
	"restobot/internal/entities"
	"restobot/internal/logger"
)

const changeChannelPrefix = "changes:"

// RedisClient wraps the Redis client
type RedisClient struct {
	Client *redis.Client
}

func NewRedis(cfg config.RedisConfig) *RedisClient {
	return &RedisClient{Client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// ChangeChannel is the pub/sub channel carrying a restaurant's row changes.
func ChangeChannel(restaurantID string) string {
	return changeChannelPrefix + restaurantID
}

// ChangeFeed publishes row changes on Redis pub/sub so every API replica can
// push them to its websocket clients.
type ChangeFeed struct {
	client *redis.Client
	log    logger.Logger
}

func NewChangeFeed(client *redis.Client, log logger.Logger) *ChangeFeed {
	return &ChangeFeed{client: client, log: log}
}

func (f *ChangeFeed) Publish(ctx context.Context, evt entities.ChangeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, ChangeChannel(evt.RestaurantID), payload).Err(); err != nil {
		f.log.Warn("change publish failed", map[string]interface{}{
			"table": evt.Table,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Subscribe streams a restaurant's raw change payloads until ctx is done.
// The returned channel is closed when the subscription ends.
func (f *ChangeFeed) Subscribe(ctx context.Context, restaurantID string) (<-chan []byte, error) {
	sub := f.client.Subscribe(ctx, ChangeChannel(restaurantID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					f.log.Warn("realtime subscriber too slow, dropping change", map[string]interface{}{"restaurant_id": restaurantID})
				}
			}
		}
	}()
	return out, nil
}

// RedisDeduplicator remembers provider message ids with SETNX.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "dedup:"+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, "dedup:"+key).Err(); err != nil {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}
