package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

// ErrLockNotHeld is returned when releasing a lock that expired or belongs to another owner
var ErrLockNotHeld = errors.New("lock not held")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientFromRedis(rdb), nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock tries to take a distributed lock. The returned token must be
// passed to ReleaseLock; ok is false when someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only if it is still owned by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	result, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("release lock %s: %w", lockKey, ErrLockNotHeld)
	}
	return nil
}

// ExtendLock resets the lock TTL only if it is still owned by token
func (c *Client) ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) error {
	result, err := c.extendScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock script failed: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("extend lock %s: %w", lockKey, ErrLockNotHeld)
	}
	return nil
}

// SetIdempotencyKey stores an idempotency key with TTL. It returns false
// when the key was already present.
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyName(key), value, ttl).Result()
}

// GetIdempotencyKey returns the stored value, or redis.Nil wrapped when absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, idempotencyName(key)).Result()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, idempotencyName(key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// IsNil reports whether err is the go-redis missing key marker
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func idempotencyName(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
