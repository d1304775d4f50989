package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisEntryPrefix = "vcache:entry:"
	redisTagPrefix   = "vcache:tag:"
)

// RedisBackend stores encoded entries in Redis. Every tag is a set of entry
// keys whose expiry follows the longest-lived member.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, redisEntryPrefix+key)
	ttlCmd := pipe.PTTL(ctx, redisEntryPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, err
	}

	data, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	ttl, err := ttlCmd.Result()
	if err != nil || ttl <= 0 {
		// Key without expiry or expiring right now; let the memory tier hold it briefly.
		ttl = time.Second
	}
	return data, ttl, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisEntryPrefix+key, value, ttl)
		for _, tag := range tags {
			tagKey := redisTagPrefix + tag
			pipe.SAdd(ctx, tagKey, key)
			pipe.ExpireNX(ctx, tagKey, ttl)
			pipe.ExpireGT(ctx, tagKey, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisBackend) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tagKey := redisTagPrefix + tag
	members, err := r.client.SMembers(ctx, tagKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, redisEntryPrefix+member)
	}

	removed := int64(0)
	if len(keys) > 0 {
		removed, err = r.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
	}
	if err := r.client.Del(ctx, tagKey).Err(); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
