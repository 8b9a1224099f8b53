// Package stages holds the evaluation stages and the plans that order them.
package stages

import (
	"context"
	"os"
	"time"

	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

type VersionResolver interface {
	ResolveVersion(ctx context.Context, owner, name string) (string, error)
}

type ContentFetcher interface {
	Fetch(ctx context.Context, repo entity.RepositoryRef, version, dir string) (*entity.SourceSnapshot, error)
}

type Scorer interface {
	Score(ctx context.Context, repo entity.RepositoryRef, version string, metrics entity.Metrics) (*entity.ScoreCard, error)
}

type DiagramStore interface {
	PutDiagram(ctx context.Context, key entity.CacheKey, format string, source []byte) (string, error)
}

// ArtifactCache is satisfied by cache.Coordinator.
type ArtifactCache interface {
	Lookup(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error)
	Store(ctx context.Context, key entity.CacheKey, artifact *entity.Artifact) error
}

// Deps carries the collaborators every stage is built from.
type Deps struct {
	Resolver  VersionResolver
	Fetcher   ContentFetcher
	Scorer    Scorer
	Artifacts ArtifactCache
	// Diagrams is optional. Without it diagrams stay inline in the report.
	Diagrams   DiagramStore
	ScratchDir string
	Logger     *infra.LoggerClient
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) scratchDir() string {
	if d.ScratchDir != "" {
		return d.ScratchDir
	}
	return os.TempDir()
}

// stage carries the static half of pipeline.Stage.
type stage struct {
	name   string
	policy pipeline.Policy
	writes []string
}

func (s stage) Name() string            { return s.name }
func (s stage) Policy() pipeline.Policy { return s.policy }
func (s stage) Writes() []string        { return s.writes }

func fatal(name string, keys ...named) stage {
	return stage{name: name, policy: pipeline.Fatal, writes: keyNames(keys...)}
}

func degradable(name string, keys ...named) stage {
	return stage{name: name, policy: pipeline.Degradable, writes: keyNames(keys...)}
}
