package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra/produce"
)

// ArtifactCache is the hot-cache adapter contract shared by the Redis and
// in-process backends.
type ArtifactCache interface {
	Get(ctx context.Context, key string) (*entity.Artifact, bool, error)
	Set(ctx context.Context, key string, artifact *entity.Artifact, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Infra struct {
	Telemetry      *Telemetry
	Logger         *LoggerClient
	Postgres       *PostgresClient
	Redis          *RedisClient
	ArtifactCache  ArtifactCache
	RabbitMQ       *RabbitMQClient
	Produce        *produce.Produce
	SourceProvider *SourceProvider
	ScoringService *ScoringService
	Minio          *MinioClient
}

// InitInfra builds every client the API and the consumer need. It panics on a
// required dependency, like the rest of the startup path.
func InitInfra(ctx context.Context, cfg *config.Config) *Infra {
	infra := InitLocalInfra(ctx, cfg)

	rabbitMQ, err := InitRabbitMQClient(cfg.EnvConfig)
	if err != nil {
		panic("Failed to initialize RabbitMQ service: " + err.Error())
	}
	infra.RabbitMQ = rabbitMQ
	infra.Produce = produce.InitProduce(rabbitMQ.Channel)

	return infra
}

// InitLocalInfra builds everything except the broker. The CLI runs
// evaluations inline with it; Produce stays nil.
func InitLocalInfra(ctx context.Context, cfg *config.Config) *Infra {
	telemetry, err := InitTelemetry(ctx, cfg.EnvConfig)
	if err != nil {
		panic("Failed to initialize Telemetry: " + err.Error())
	}

	logger := InitLoggerClient(cfg.EnvConfig, telemetry.LoggerProvider)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	postgres, err := InitPostgresClient(cfg.EnvConfig)
	if err != nil {
		panic("Failed to initialize Postgres service: " + err.Error())
	}

	redis, artifactCache, err := InitArtifactCache(cfg.EnvConfig)
	if err != nil {
		panic("Failed to initialize hot cache: " + err.Error())
	}

	// MinIO is optional; diagrams are kept inline in the report without it
	minio, err := InitMinioClient(cfg.EnvConfig)
	if err == nil {
		if err = minio.EnsureBucket(ctx); err != nil {
			minio = nil
		}
	}
	if err != nil {
		log.Printf("Warning: Failed to initialize MinIO service: %v (diagrams will be stored inline)", err)
	}

	return &Infra{
		Telemetry:      telemetry,
		Logger:         logger,
		Postgres:       postgres,
		Redis:          redis,
		ArtifactCache:  artifactCache,
		SourceProvider: InitSourceProvider(cfg.EnvConfig),
		ScoringService: InitScoringService(cfg.EnvConfig),
		Minio:          minio,
	}
}

// InitArtifactCache selects the hot cache backend. The Redis client is nil
// for the in-process backend.
func InitArtifactCache(cfg *config.EnvConfig) (*RedisClient, ArtifactCache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return nil, NewMemoryCache(cfg.Cache.TTL), nil
	case "redis", "":
		redis, err := InitRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return redis, NewRedisArtifactCache(redis), nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func (i *Infra) Close(ctx context.Context) {
	if i.RabbitMQ != nil {
		_ = i.RabbitMQ.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Postgres != nil {
		_ = i.Postgres.Close()
	}
	if i.Telemetry != nil {
		_ = i.Telemetry.Shutdown(ctx)
	}
}
