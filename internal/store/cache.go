package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/nidhogg/flowerbed/internal/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "flwr:flower:"

// Cache is a Redis read-through, write-through layer over another backend.
// The wrapped backend stays the source of truth; cache failures are logged
// and never fail a request.
type Cache struct {
	next   memory.Backend
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wraps next with a Redis cache.
func NewCache(next memory.Backend, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *Cache) Save(ctx context.Context, f *flower.Flower) error {
	if err := c.next.Save(ctx, f); err != nil {
		return err
	}
	doc, err := encode(f)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, cachePrefix+f.ID, doc, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("flower", f.ID), zap.Error(err))
	}
	return nil
}

func (c *Cache) Load(ctx context.Context, id string) (*flower.Flower, error) {
	doc, err := c.rdb.Get(ctx, cachePrefix+id).Bytes()
	switch {
	case err == nil:
		if f, decErr := decode(id, doc); decErr == nil {
			return f, nil
		}
		c.logger.Warn("dropping undecodable cache entry", zap.String("flower", id))
		c.rdb.Del(ctx, cachePrefix+id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("flower", id), zap.Error(err))
	}

	f, err := c.next.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, encErr := encode(f); encErr == nil {
		if err := c.rdb.Set(ctx, cachePrefix+id, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache fill failed", zap.String("flower", id), zap.Error(err))
		}
	}
	return f, nil
}

func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, cachePrefix+id).Err(); err != nil {
		c.logger.Warn("cache evict failed", zap.String("flower", id), zap.Error(err))
	}
	return c.next.Delete(ctx, id)
}
