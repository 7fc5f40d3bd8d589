package orm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appfuel/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ResultCache caches the column keyed rows of repository queries per domain
type ResultCache interface {
	Get(ctx context.Context, domain, key string) ([]map[string]interface{}, bool, error)
	Set(ctx context.Context, domain, key string, rows []map[string]interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, domain string) error
}

const maxCachedValueSize = 10 * 1024 * 1024

// RedisCache is a ResultCache over redis. Rows are msgpack encoded under
// <prefix><domain>:<key>.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisClient opens a client for addr
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCache(client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache) key(domain, key string) string {
	return c.prefix + domain + ":" + key
}

// Ping tests the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, domain, key string) ([]map[string]interface{}, bool, error) {
	data, err := c.client.Get(ctx, c.key(domain, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.ORMCacheErrors.WithLabelValues("result", "get").Inc()
		return nil, false, err
	}

	var rows []map[string]interface{}
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		c.logger.Warnw("Dropping undecodable cache entry", "key", c.key(domain, key), "error", err)
		metrics.ORMCacheErrors.WithLabelValues("result", "decode").Inc()
		_ = c.client.Del(ctx, c.key(domain, key)).Err()
		return nil, false, nil
	}
	return rows, true, nil
}

func (c *RedisCache) Set(ctx context.Context, domain, key string, rows []map[string]interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(rows)
	if err != nil {
		metrics.ORMCacheErrors.WithLabelValues("result", "encode").Inc()
		return fmt.Errorf("failed to encode cache rows: %w", err)
	}
	if len(data) > maxCachedValueSize {
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCachedValueSize)
	}
	if err := c.client.Set(ctx, c.key(domain, key), data, ttl).Err(); err != nil {
		metrics.ORMCacheErrors.WithLabelValues("result", "set").Inc()
		return err
	}
	return nil
}

// Invalidate deletes every cached query of domain
func (c *RedisCache) Invalidate(ctx context.Context, domain string) error {
	iter := c.client.Scan(ctx, 0, c.key(domain, "*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		metrics.ORMCacheErrors.WithLabelValues("result", "scan").Inc()
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
