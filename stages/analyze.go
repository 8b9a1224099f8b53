package stages

import (
	"context"

	"github.com/tnqbao/gau-repo-evaluator/analysis"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

// analyzerStage runs one heuristic over the fetched inventory.
type analyzerStage[T any] struct {
	stage
	out pipeline.Key[T]
	run func(ctx context.Context, inv *analysis.Inventory) (T, error)
}

func newAnalyzer[T any](name string, out pipeline.Key[T], run func(context.Context, *analysis.Inventory) (T, error)) pipeline.Stage {
	return &analyzerStage[T]{stage: fatal(name, out), out: out, run: run}
}

func (s *analyzerStage[T]) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, s.out) {
		return nil
	}
	inv, err := pipeline.MustGet(scope, InventoryKey)
	if err != nil {
		return err
	}
	v, err := s.run(ctx, inv)
	if err != nil {
		return err
	}
	return pipeline.Set(scope, s.out, v)
}

func NewAnalyzeStructure() pipeline.Stage {
	return newAnalyzer("analyze_structure", StructureKey, analysis.AnalyzeStructure)
}

func NewScanSecrets() pipeline.Stage {
	return newAnalyzer("scan_secrets", SecretsKey, analysis.ScanSecrets)
}

func NewDetectTests() pipeline.Stage {
	return newAnalyzer("detect_tests", TestsKey, func(_ context.Context, inv *analysis.Inventory) (analysis.TestCoverage, error) {
		return analysis.DetectTests(inv), nil
	})
}

func NewAssessDocumentation() pipeline.Stage {
	return newAnalyzer("assess_documentation", DocumentationKey, func(_ context.Context, inv *analysis.Inventory) (*analysis.Documentation, error) {
		return analysis.AssessDocumentation(inv)
	})
}

func NewAnalyzeDependencies() pipeline.Stage {
	return newAnalyzer("analyze_dependencies", DependenciesKey, func(_ context.Context, inv *analysis.Inventory) (*analysis.Dependencies, error) {
		return analysis.AnalyzeDependencies(inv)
	})
}

type aggregateMetricsStage struct {
	stage
}

func NewAggregateMetrics() pipeline.Stage {
	return &aggregateMetricsStage{stage: fatal("aggregate_metrics", MetricsKey)}
}

func (s *aggregateMetricsStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, MetricsKey) {
		return nil
	}
	structure, err := pipeline.MustGet(scope, StructureKey)
	if err != nil {
		return err
	}
	secrets, err := pipeline.MustGet(scope, SecretsKey)
	if err != nil {
		return err
	}
	tests, err := pipeline.MustGet(scope, TestsKey)
	if err != nil {
		return err
	}
	docs, err := pipeline.MustGet(scope, DocumentationKey)
	if err != nil {
		return err
	}
	deps, err := pipeline.MustGet(scope, DependenciesKey)
	if err != nil {
		return err
	}
	return pipeline.Set(scope, MetricsKey, analysis.BuildMetrics(structure, secrets, tests, docs, deps))
}
