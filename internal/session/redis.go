package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to a session id to form its Redis key.
const DefaultKeyPrefix = "session:"

// keyChecker is the slice of the Redis API the validator needs.
type keyChecker interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisValidator treats a session as valid while its key exists in Redis.
// Session creation and expiry belong to the login service writing the keys.
type RedisValidator struct {
	client keyChecker
	prefix string
}

// RedisConfig configures NewRedisValidator.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisValidator connects to Redis and verifies the connection.
func NewRedisValidator(cfg RedisConfig) (*RedisValidator, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisValidator(client, cfg.KeyPrefix), nil
}

func newRedisValidator(client keyChecker, prefix string) *RedisValidator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisValidator{client: client, prefix: prefix}
}

func (v *RedisValidator) Validate(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	n, err := v.client.Exists(ctx, v.prefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (v *RedisValidator) Close() error {
	return v.client.Close()
}
