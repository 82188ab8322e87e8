package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding all backend sessions.
const DefaultRedisKey = "submit:sessions"

// RedisConfig holds the configuration for the Redis store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
}

// Redis keeps backend sessions as fields of one Redis hash.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}
	applyRedisDefaults(&cfg)
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Redis{client: client, key: cfg.Key}, nil
}

func (r *Redis) Load(ctx context.Context, backend string) ([]byte, error) {
	blob, err := r.client.HGet(ctx, r.key, backend).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %s: %w", backend, err)
	}
	return blob, nil
}

func (r *Redis) Save(ctx context.Context, backend string, blob []byte) error {
	if err := r.client.HSet(ctx, r.key, backend, blob).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", backend, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
