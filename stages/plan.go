package stages

import (
	"fmt"

	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

const (
	ModeOptimized  = "optimized"
	ModeSequential = "sequential"
)

// OptimizedPlan runs independent analyzers and derivations concurrently.
func OptimizedPlan(d *Deps) (*pipeline.Plan, error) {
	return pipeline.NewPlan(
		pipeline.Step(5, NewCacheLookup(d)),
		pipeline.Step(20, NewFetchSource(d)),
		pipeline.Concurrent(55,
			NewAnalyzeStructure(),
			NewScanSecrets(),
			NewDetectTests(),
			NewAssessDocumentation(),
			NewAnalyzeDependencies(),
		),
		pipeline.Step(60, NewAggregateMetrics()),
		pipeline.Concurrent(85,
			NewScoreReport(d),
			NewRenderDiagram(d),
			NewBuildChartData(),
		),
		pipeline.Step(90, NewAssembleReport(d)),
		pipeline.Step(97, NewCacheWrite(d)),
		pipeline.Step(100, NewCleanupScratch()),
	)
}

func SequentialPlan(d *Deps) (*pipeline.Plan, error) {
	return pipeline.Sequential(
		NewCacheLookup(d),
		NewFetchSource(d),
		NewAnalyzeStructure(),
		NewScanSecrets(),
		NewDetectTests(),
		NewAssessDocumentation(),
		NewAnalyzeDependencies(),
		NewAggregateMetrics(),
		NewScoreReport(d),
		NewRenderDiagram(d),
		NewBuildChartData(),
		NewAssembleReport(d),
		NewCacheWrite(d),
		NewCleanupScratch(),
	)
}

func RepositoryPlan(mode string, d *Deps) (*pipeline.Plan, error) {
	switch mode {
	case "", ModeOptimized:
		return OptimizedPlan(d)
	case ModeSequential:
		return SequentialPlan(d)
	default:
		return nil, fmt.Errorf("unknown pipeline mode %q", mode)
	}
}
