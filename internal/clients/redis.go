// Package clients provides wrappers for external service clients.
package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failureKeyPrefix  = "auth:fail:"
	banKeyPrefix      = "auth:ban:"
	offenseKeyPrefix  = "auth:offense:"
	sessionKeyPrefix  = "session:"
	rememberKeyPrefix = "remember:"

	// OffenseMemory is how long repeat-offense counts are retained for
	// ban escalation.
	OffenseMemory = 24 * time.Hour
)

// RedisClient wraps the Redis client with application-specific operations.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client from the connection URL.
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	return &RedisClient{client: client}, nil
}

// Ping checks connectivity to Redis.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// IncrementLoginFailure atomically increments the failure counter for a client
// identity and returns the new count. The counter expires after windowSeconds,
// measured from the first failure in the window.
func (c *RedisClient) IncrementLoginFailure(ctx context.Context, identity string, windowSeconds int) (int64, error) {
	key := failureKeyPrefix + identity

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, time.Duration(windowSeconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment failure counter: %w", err)
	}

	return incr.Val(), nil
}

// RegisterOffense increments the repeat-offense counter used for ban
// escalation and returns the new count.
func (c *RedisClient) RegisterOffense(ctx context.Context, identity string) (int64, error) {
	key := offenseKeyPrefix + identity

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, OffenseMemory)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment offense counter: %w", err)
	}

	return incr.Val(), nil
}

// PlaceBan marks a client identity as banned for ttlSeconds.
func (c *RedisClient) PlaceBan(ctx context.Context, identity string, ttlSeconds int) error {
	key := banKeyPrefix + identity
	if err := c.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), time.Duration(ttlSeconds)*time.Second).Err(); err != nil {
		return fmt.Errorf("failed to place ban: %w", err)
	}
	return nil
}

// BanRemaining returns the remaining ban duration in seconds for a client
// identity, or 0 if the identity is not banned.
func (c *RedisClient) BanRemaining(ctx context.Context, identity string) (int64, error) {
	ttl, err := c.client.TTL(ctx, banKeyPrefix+identity).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ban TTL: %w", err)
	}
	if ttl <= 0 {
		// -2: no key, -1: no expiry (never set by us)
		return 0, nil
	}
	return int64(ttl.Seconds()), nil
}

// ClearLoginFailures removes the failure counter, the ban flag and the
// offense counter for a client identity.
func (c *RedisClient) ClearLoginFailures(ctx context.Context, identity string) error {
	keys := []string{
		failureKeyPrefix + identity,
		banKeyPrefix + identity,
		offenseKeyPrefix + identity,
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear failure state: %w", err)
	}
	return nil
}

// GetSession reads the serialized session state for a session identifier.
// Returns (nil, nil) when no session exists.
func (c *RedisClient) GetSession(ctx context.Context, id string) ([]byte, error) {
	data, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return data, nil
}

// SetSession writes the serialized session state for a session identifier
// with the given lifetime.
func (c *RedisClient) SetSession(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, sessionKeyPrefix+id, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// DeleteSession removes the session state for a session identifier.
func (c *RedisClient) DeleteSession(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PutRememberToken stores an allowlist entry for a stay-signed-in token.
func (c *RedisClient) PutRememberToken(ctx context.Context, jti string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, rememberKeyPrefix+jti, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store remember token: %w", err)
	}
	return nil
}

// GetRememberToken reads the allowlist entry for a stay-signed-in token.
// Returns (nil, nil) when the token is not on the allowlist.
func (c *RedisClient) GetRememberToken(ctx context.Context, jti string) ([]byte, error) {
	data, err := c.client.Get(ctx, rememberKeyPrefix+jti).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read remember token: %w", err)
	}
	return data, nil
}

// DeleteRememberToken removes the allowlist entry for a stay-signed-in token.
func (c *RedisClient) DeleteRememberToken(ctx context.Context, jti string) error {
	if err := c.client.Del(ctx, rememberKeyPrefix+jti).Err(); err != nil {
		return fmt.Errorf("failed to delete remember token: %w", err)
	}
	return nil
}
