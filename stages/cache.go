package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"gorm.io/datatypes"
)

// cacheLookupStage resolves the version to evaluate and checks the cache
// for it. A hit ends the run.
type cacheLookupStage struct {
	stage
	deps *Deps
}

func NewCacheLookup(d *Deps) pipeline.Stage {
	return &cacheLookupStage{
		stage: fatal("cache_lookup", CacheKeyKey, CachedArtifactKey, pipeline.ResultRefKey, CacheHitKey),
		deps:  d,
	}
}

func (s *cacheLookupStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, CacheHitKey) {
		return nil
	}
	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return err
	}
	if req.Owner == "" || req.Name == "" {
		return apperror.Invalid("owner and name are required")
	}

	version := req.PinnedVersion
	if version == "" {
		version, err = s.deps.Resolver.ResolveVersion(ctx, req.Owner, req.Name)
		if err != nil {
			return err
		}
	}

	key := entity.NewCacheKey(req.Owner, req.Name, version)
	if err := pipeline.Set(scope, CacheKeyKey, key); err != nil {
		return err
	}
	return lookupInto(ctx, scope, s.deps, key)
}

func (s *cacheLookupStage) ShortCircuit(r pipeline.Reader) bool {
	hit, _ := pipeline.Get(r, CacheHitKey)
	return hit
}

// lookupInto records the lookup result. CacheHitKey is written last so a
// short-circuit always finds the result reference.
func lookupInto(ctx context.Context, scope *pipeline.Scope, d *Deps, key entity.CacheKey) error {
	artifact, found, err := d.Artifacts.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		d.Logger.DebugWithContextf(ctx, "[Stages] No artifact for %s", key)
		return pipeline.Set(scope, CacheHitKey, false)
	}

	if err := pipeline.Set(scope, CachedArtifactKey, artifact); err != nil {
		return err
	}
	if err := pipeline.Set(scope, pipeline.ResultRefKey, artifact.Ref()); err != nil {
		return err
	}
	d.Logger.InfoWithContextf(ctx, "[Stages] Artifact %s served from cache for %s", artifact.Ref(), key)
	return pipeline.Set(scope, CacheHitKey, true)
}

// cacheWriteStage persists the assembled report through the coordinator.
type cacheWriteStage struct {
	stage
	deps *Deps
}

func NewCacheWrite(d *Deps) pipeline.Stage {
	return newCacheWrite("cache_write", d)
}

func newCacheWrite(name string, d *Deps) *cacheWriteStage {
	return &cacheWriteStage{
		stage: fatal(name, ArtifactKey, pipeline.ResultRefKey),
		deps:  d,
	}
}

func (s *cacheWriteStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ArtifactKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}
	report, err := pipeline.MustGet(scope, ReportKey)
	if err != nil {
		return err
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	artifact := &entity.Artifact{
		OverallScore: report.Score.Overall,
		Report:       datatypes.JSON(body),
	}
	if err := s.deps.Artifacts.Store(ctx, key, artifact); err != nil {
		return err
	}

	if err := pipeline.Set(scope, ArtifactKey, artifact); err != nil {
		return err
	}
	return pipeline.Set(scope, pipeline.ResultRefKey, artifact.Ref())
}
