package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Key prefix for device ownership. The hash tag keeps device keys on one
	// Redis Cluster slot.
	deviceKeyPrefix = "{lecture:devices}:"

	// DefaultLockTTL bounds how long a crashed instance can hold a device.
	DefaultLockTTL = 6 * time.Hour
)

// RedisLock is a DeviceLock shared across service instances.
type RedisLock struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed device lock. ttl <= 0 uses DefaultLockTTL.
func NewRedisLock(client redis.Cmdable, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}
}

func deviceKey(deviceID string) string {
	return deviceKeyPrefix + deviceID
}

// Acquire implements DeviceLock.
func (l *RedisLock) Acquire(ctx context.Context, deviceID, owner string) error {
	key := deviceKey(deviceID)
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire device lock in Redis: %w", err)
	}
	if ok {
		return nil
	}

	cur, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Released between SETNX and GET; the next Start will retry.
		return ErrDeviceBusy
	}
	if err != nil {
		return fmt.Errorf("failed to read device lock owner: %w", err)
	}
	if cur == owner {
		return nil
	}
	return ErrDeviceBusy
}

// releaseLuaScript deletes the key only if it still belongs to the caller.
var releaseLuaScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Release implements DeviceLock.
func (l *RedisLock) Release(ctx context.Context, deviceID, owner string) error {
	if _, err := releaseLuaScript.Run(ctx, l.client, []string{deviceKey(deviceID)}, owner).Result(); err != nil {
		return fmt.Errorf("failed to release device lock in Redis: %w", err)
	}
	return nil
}
