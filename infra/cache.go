package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

var ErrCacheMiss = errors.New("key not found in cache")

type RedisClient struct {
	Client *redis.Client
}

func InitRedisClient(cfg *config.EnvConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.RedisHost + ":" + cfg.Redis.RedisPort,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.Client.TTL(ctx, key).Result()
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// RedisArtifactCache is the Redis-backed hot cache for evaluation artifacts.
type RedisArtifactCache struct {
	redis *RedisClient
}

func NewRedisArtifactCache(client *RedisClient) *RedisArtifactCache {
	return &RedisArtifactCache{redis: client}
}

func (c *RedisArtifactCache) Get(ctx context.Context, key string) (*entity.Artifact, bool, error) {
	var artifact entity.Artifact
	if err := c.redis.Get(ctx, key, &artifact); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &artifact, true, nil
}

func (c *RedisArtifactCache) Set(ctx context.Context, key string, artifact *entity.Artifact, ttl time.Duration) error {
	return c.redis.Set(ctx, key, artifact, ttl)
}

func (c *RedisArtifactCache) Delete(ctx context.Context, key string) error {
	return c.redis.Delete(ctx, key)
}
