package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "dedup:"

// RedisDeduper remembers processed keys for a TTL. A key is checked before
// handling and marked only after handling succeeded, so a failed delivery is
// retried by the sender.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl, log: log}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		d.log.Warn("redis dedup check failed, allowing processing", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	if err := d.rdb.Set(ctx, keyPrefix+key, 1, d.ttl).Err(); err != nil {
		d.log.Warn("redis dedup mark failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
