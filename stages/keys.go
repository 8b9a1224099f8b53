package stages

import (
	"github.com/tnqbao/gau-repo-evaluator/analysis"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

// RequestKey is seeded by the caller before a run starts.
var RequestKey = pipeline.NewKey[entity.EvaluationRequest]("request")

var (
	CacheKeyKey       = pipeline.NewKey[entity.CacheKey]("cache_key")
	CacheHitKey       = pipeline.NewKey[bool]("cache_hit")
	CachedArtifactKey = pipeline.NewKey[*entity.Artifact]("cached_artifact")

	SnapshotKey  = pipeline.NewKey[*entity.SourceSnapshot]("snapshot")
	InventoryKey = pipeline.NewKey[*analysis.Inventory]("inventory")

	StructureKey     = pipeline.NewKey[*analysis.Structure]("structure")
	SecretsKey       = pipeline.NewKey[[]analysis.SecretFinding]("secrets")
	TestsKey         = pipeline.NewKey[analysis.TestCoverage]("tests")
	DocumentationKey = pipeline.NewKey[*analysis.Documentation]("documentation")
	DependenciesKey  = pipeline.NewKey[*analysis.Dependencies]("dependencies")

	MetricsKey = pipeline.NewKey[entity.Metrics]("metrics")
	ScoreKey   = pipeline.NewKey[*entity.ScoreCard]("score")
	DiagramKey = pipeline.NewKey[entity.Diagram]("diagram")
	ChartsKey  = pipeline.NewKey[[]entity.ChartSeries]("charts")
	ReportKey  = pipeline.NewKey[*entity.Report]("report")

	ArtifactKey       = pipeline.NewKey[*entity.Artifact]("artifact")
	ScratchCleanedKey = pipeline.NewKey[bool]("scratch_cleaned")

	MemberVersionsKey = pipeline.NewKey[map[string]string]("member_versions")
)

type named interface{ Name() string }

func keyNames(keys ...named) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name()
	}
	return names
}
