package stages

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/tnqbao/gau-repo-evaluator/analysis"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

// fetchSourceStage unpacks the resolved version into a scratch directory
// that lives until the workspace is discarded.
type fetchSourceStage struct {
	stage
	deps *Deps
}

func NewFetchSource(d *Deps) pipeline.Stage {
	return &fetchSourceStage{
		stage: fatal("fetch_source", SnapshotKey, InventoryKey),
		deps:  d,
	}
}

func (s *fetchSourceStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, InventoryKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(s.deps.scratchDir(), fmt.Sprintf("eval-%s-%s-", key.Owner, key.Name))
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	scope.OnDiscard(func() { _ = os.RemoveAll(dir) })

	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return err
	}
	snapshot, err := s.deps.Fetcher.Fetch(ctx, req.Repository(), key.Version, dir)
	if err != nil {
		return err
	}
	s.deps.Logger.InfoWithContextf(ctx, "[Stages] Fetched %s@%s: %d files, %s",
		snapshot.Repository, snapshot.Version, snapshot.Files, humanize.Bytes(uint64(snapshot.Bytes)))

	inv, err := analysis.BuildInventory(ctx, snapshot.Dir)
	if err != nil {
		return fmt.Errorf("build inventory: %w", err)
	}
	if err := pipeline.Set(scope, SnapshotKey, snapshot); err != nil {
		return err
	}
	return pipeline.Set(scope, InventoryKey, inv)
}

// cleanupScratchStage removes the scratch directory as soon as the report is
// stored. The discard hook covers runs that never get here.
type cleanupScratchStage struct {
	stage
}

func NewCleanupScratch() pipeline.Stage {
	return &cleanupScratchStage{stage: degradable("cleanup_scratch", ScratchCleanedKey)}
}

func (s *cleanupScratchStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ScratchCleanedKey) {
		return nil
	}
	snapshot, ok := pipeline.Get(scope, SnapshotKey)
	if ok && snapshot.Dir != "" {
		if err := os.RemoveAll(snapshot.Dir); err != nil {
			return fmt.Errorf("remove %s: %w", snapshot.Dir, err)
		}
	}
	return pipeline.Set(scope, ScratchCleanedKey, true)
}

func (s *cleanupScratchStage) Fallback(scope *pipeline.Scope) error {
	return pipeline.Set(scope, ScratchCleanedKey, false)
}
