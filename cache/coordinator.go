// Package cache puts the hot cache in front of the artifact store and keeps
// the two consistent for readers.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultTTL = 24 * time.Hour

type HotCache interface {
	Get(ctx context.Context, key string) (*entity.Artifact, bool, error)
	Set(ctx context.Context, key string, artifact *entity.Artifact, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ArtifactStore is the durable source of truth. Entries never expire.
type ArtifactStore interface {
	FindByKey(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error)
	Save(ctx context.Context, artifact *entity.Artifact) error
}

type Coordinator struct {
	hot     HotCache
	store   ArtifactStore
	ttl     time.Duration
	logger  *infra.LoggerClient
	lookups metric.Int64Counter
}

type Option func(*Coordinator)

func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func NewCoordinator(hot HotCache, store ArtifactStore, logger *infra.LoggerClient, opts ...Option) *Coordinator {
	c := &Coordinator{
		hot:    hot,
		store:  store,
		ttl:    DefaultTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	lookups, err := otel.Meter("github.com/tnqbao/gau-repo-evaluator/cache").Int64Counter(
		"evaluation.cache.lookups",
		metric.WithDescription("Artifact lookups by outcome"),
	)
	if err == nil {
		c.lookups = lookups
	}
	return c
}

// Lookup checks the hot cache, then the store. A store hit is copied back
// into the hot cache before returning. Hot cache errors count as misses.
func (c *Coordinator) Lookup(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	artifact, found, err := c.hot.Get(ctx, key.String())
	if err != nil {
		c.logger.WarningWithContextf(ctx, "[Cache] Hot cache read failed for %s, falling back to store: %v", key, err)
	}
	if err == nil && found {
		c.record(ctx, "hot_hit")
		artifact.FromCache = true
		return artifact, true, nil
	}

	artifact, found, err = c.store.FindByKey(ctx, key)
	if err != nil {
		return nil, false, apperror.Persistence("artifact lookup", err)
	}
	if !found {
		c.record(ctx, "miss")
		return nil, false, nil
	}

	c.record(ctx, "warm_hit")
	utils.BestEffort(ctx, c.logger, "hot cache backfill "+key.String(), func(ctx context.Context) error {
		return c.hot.Set(ctx, key.String(), artifact, c.ttl)
	})
	artifact.FromCache = true
	return artifact, true, nil
}

// Store writes the store first; only a successful store write reaches the
// hot cache. The artifact's key fields are overwritten with key.
func (c *Coordinator) Store(ctx context.Context, key entity.CacheKey, artifact *entity.Artifact) error {
	if err := key.Validate(); err != nil {
		return err
	}
	artifact.Owner = key.Owner
	artifact.Name = key.Name
	artifact.Version = key.Version

	if err := c.store.Save(ctx, artifact); err != nil {
		return apperror.Persistence("artifact write", err)
	}

	utils.BestEffort(ctx, c.logger, "hot cache set "+key.String(), func(ctx context.Context) error {
		return c.hot.Set(ctx, key.String(), artifact, c.ttl)
	})
	return nil
}

// Invalidate drops the hot entry. The stored artifact is untouched.
func (c *Coordinator) Invalidate(ctx context.Context, key entity.CacheKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := c.hot.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	if c.lookups != nil {
		c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
