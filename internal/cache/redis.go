package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/attribution/config"
	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client  *redis.Client
	poolTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, poolTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), poolTTL)
}

func NewRedisCacheWithClient(client *redis.Client, poolTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, poolTTL: poolTTL}
}

// GetCandidatePool returns nil, nil on a cache miss.
func (c *RedisCache) GetCandidatePool(ctx context.Context, serviceType string) ([]domain.Candidate, error) {
	data, err := c.client.Get(ctx, candidatePoolKey(serviceType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []domain.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (c *RedisCache) SetCandidatePool(ctx context.Context, serviceType string, candidates []domain.Candidate) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, candidatePoolKey(serviceType), payload, c.poolTTL).Err()
}

func (c *RedisCache) AcquireTickLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, tickLockKey(), owner, ttl).Result()
}

// releaseIfOwner deletes the lock only while it still holds our value.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (c *RedisCache) ReleaseTickLock(ctx context.Context, owner string) error {
	return releaseIfOwner.Run(ctx, c.client, []string{tickLockKey()}, owner).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func candidatePoolKey(serviceType string) string {
	return "cache:candidates:" + serviceType
}

func tickLockKey() string {
	return "lock:attribution:escalation-tick"
}
