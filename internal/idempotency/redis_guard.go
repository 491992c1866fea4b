package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "garment:idem:"

// RedisGuard shares key locks across instances through redislock.
type RedisGuard struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisGuard(addr string, password string, db int, ttl time.Duration) *RedisGuard {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{client: client, locker: redislock.New(client), ttl: ttl}
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := g.locker.Obtain(ctx, keyPrefix+key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
