package stages

import (
	"context"

	"github.com/tnqbao/gau-repo-evaluator/analysis"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

const diagramFormat = "mermaid"

type scoreReportStage struct {
	stage
	deps *Deps
}

func NewScoreReport(d *Deps) pipeline.Stage {
	return &scoreReportStage{stage: fatal("score_report", ScoreKey), deps: d}
}

func (s *scoreReportStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ScoreKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}
	metrics, err := pipeline.MustGet(scope, MetricsKey)
	if err != nil {
		return err
	}
	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return err
	}

	card, err := s.deps.Scorer.Score(ctx, req.Repository(), key.Version, metrics)
	if err != nil {
		return err
	}
	return pipeline.Set(scope, ScoreKey, card)
}

// renderDiagramStage draws the layout diagram and uploads it when a diagram
// store is configured.
type renderDiagramStage struct {
	stage
	deps *Deps
}

func NewRenderDiagram(d *Deps) pipeline.Stage {
	return &renderDiagramStage{stage: degradable("render_diagram", DiagramKey), deps: d}
}

func (s *renderDiagramStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, DiagramKey) {
		return nil
	}
	source, err := s.render(scope)
	if err != nil {
		return err
	}

	diagram := entity.Diagram{Format: diagramFormat, Source: source}
	if s.deps.Diagrams != nil {
		key, err := pipeline.MustGet(scope, CacheKeyKey)
		if err != nil {
			return err
		}
		url, err := s.deps.Diagrams.PutDiagram(ctx, key, diagramFormat, []byte(source))
		if err != nil {
			return err
		}
		diagram.URL = url
	}
	return pipeline.Set(scope, DiagramKey, diagram)
}

// Fallback keeps the diagram inline, or empty when it could not be drawn.
func (s *renderDiagramStage) Fallback(scope *pipeline.Scope) error {
	source, err := s.render(scope)
	if err != nil {
		source = ""
	}
	return pipeline.Set(scope, DiagramKey, entity.Diagram{Format: diagramFormat, Source: source})
}

func (s *renderDiagramStage) render(scope *pipeline.Scope) (string, error) {
	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return "", err
	}
	structure, err := pipeline.MustGet(scope, StructureKey)
	if err != nil {
		return "", err
	}
	return analysis.RenderDiagram(req.Repository(), structure), nil
}

type buildChartDataStage struct {
	stage
}

func NewBuildChartData() pipeline.Stage {
	return &buildChartDataStage{stage: degradable("build_chart_data", ChartsKey)}
}

func (s *buildChartDataStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ChartsKey) {
		return nil
	}
	metrics, err := pipeline.MustGet(scope, MetricsKey)
	if err != nil {
		return err
	}
	return pipeline.Set(scope, ChartsKey, analysis.BuildCharts(metrics))
}

func (s *buildChartDataStage) Fallback(scope *pipeline.Scope) error {
	return pipeline.Set(scope, ChartsKey, []entity.ChartSeries{})
}

type assembleReportStage struct {
	stage
	deps *Deps
}

func NewAssembleReport(d *Deps) pipeline.Stage {
	return &assembleReportStage{stage: fatal("assemble_report", ReportKey), deps: d}
}

func (s *assembleReportStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ReportKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}
	metrics, err := pipeline.MustGet(scope, MetricsKey)
	if err != nil {
		return err
	}
	score, err := pipeline.MustGet(scope, ScoreKey)
	if err != nil {
		return err
	}
	// Both are degradable and may be absent.
	diagram, _ := pipeline.Get(scope, DiagramKey)
	charts, _ := pipeline.Get(scope, ChartsKey)

	return pipeline.Set(scope, ReportKey, &entity.Report{
		Owner:       key.Owner,
		Name:        key.Name,
		Version:     key.Version,
		Metrics:     metrics,
		Score:       *score,
		Diagram:     diagram,
		Charts:      charts,
		GeneratedAt: s.deps.now(),
	})
}
