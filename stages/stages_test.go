package stages

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"gorm.io/datatypes"
)

var widgets = entity.EvaluationRequest{Owner: "acme", Name: "widgets"}

var optimizedStages = []string{
	"cache_lookup", "fetch_source",
	"analyze_structure", "scan_secrets", "detect_tests", "assess_documentation", "analyze_dependencies",
	"aggregate_metrics",
	"score_report", "render_diagram", "build_chart_data",
	"assemble_report", "cache_write", "cleanup_scratch",
}

func decodeReport(t *testing.T, a entity.Artifact) entity.Report {
	t.Helper()
	var report entity.Report
	require.NoError(t, json.Unmarshal(a.Report, &report))
	return report
}

func TestOptimizedPlanLayout(t *testing.T) {
	plan, err := OptimizedPlan(newHarness(t).deps)
	require.NoError(t, err)

	var checkpoints []int
	for _, g := range plan.Groups() {
		checkpoints = append(checkpoints, g.Checkpoint)
	}
	require.Equal(t, []int{5, 20, 55, 60, 85, 90, 97, 100}, checkpoints)

	var names []string
	for _, st := range plan.Stages() {
		names = append(names, st.Name())
	}
	require.Equal(t, optimizedStages, names)
}

func TestRepositoryPlanRejectsUnknownMode(t *testing.T) {
	_, err := RepositoryPlan("turbo", newHarness(t).deps)
	require.ErrorContains(t, err, "unknown pipeline mode")
}

func TestScenario_FirstEvaluation(t *testing.T) {
	h := newHarness(t)
	job := newJob(t, widgets)

	outcome, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.NoError(t, err)
	require.False(t, outcome.ShortCircuited)
	require.ElementsMatch(t, optimizedStages, outcome.Executed)

	require.Equal(t, entity.JobStatusCompleted, h.jobs.status[job.ID])
	require.Equal(t, []int{5, 20, 55, 60, 85, 90, 97, 100}, h.jobs.progress[job.ID])

	stored, ok := h.store.get(entity.NewCacheKey("acme", "widgets", "v1"))
	require.True(t, ok)
	require.Equal(t, stored.Ref(), h.jobs.resultRef[job.ID])
	require.Equal(t, 72.0, stored.OverallScore)

	report := decodeReport(t, stored)
	require.Equal(t, "v1", report.Version)
	require.Equal(t, 6, report.Metrics.TotalFiles)
	require.Equal(t, 1, report.Metrics.TestFiles)
	require.True(t, report.Metrics.HasReadme)
	require.Equal(t, "https://diagrams.test/acme/widgets/v1.mermaid", report.Diagram.URL)
	require.Contains(t, report.Diagram.Source, "graph TD")
	require.Len(t, report.Charts, 3)
	require.Equal(t, 1, h.hot.ItemCount())

	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestScenario_RepeatIsServedFromCache(t *testing.T) {
	h := newHarness(t)
	runner := h.runner(t, ModeOptimized)
	first := newJob(t, widgets)
	_, err := runner.Run(context.Background(), first)
	require.NoError(t, err)

	second := newJob(t, widgets)
	outcome, err := runner.Run(context.Background(), second)
	require.NoError(t, err)

	require.True(t, outcome.ShortCircuited)
	require.Equal(t, []string{"cache_lookup"}, outcome.Executed)
	require.Equal(t, []int{100}, h.jobs.progress[second.ID])
	require.Equal(t, h.jobs.resultRef[first.ID], h.jobs.resultRef[second.ID])
	require.EqualValues(t, 1, h.fetcher.calls.Load())
	require.EqualValues(t, 1, h.scorer.calls.Load())
}

func TestScenario_NewVersionLeavesPreviousArtifact(t *testing.T) {
	h := newHarness(t)
	runner := h.runner(t, ModeOptimized)
	_, err := runner.Run(context.Background(), newJob(t, widgets))
	require.NoError(t, err)
	v1Key := entity.NewCacheKey("acme", "widgets", "v1")
	before, _ := h.store.get(v1Key)

	h.resolver.set("acme/widgets", "v2")
	job := newJob(t, widgets)
	outcome, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	require.False(t, outcome.ShortCircuited)

	require.Equal(t, 2, h.store.len())
	after, ok := h.store.get(v1Key)
	require.True(t, ok)
	require.Equal(t, before.ID, after.ID)
	require.Equal(t, before.Report, after.Report)

	v2, ok := h.store.get(entity.NewCacheKey("acme", "widgets", "v2"))
	require.True(t, ok)
	require.NotEqual(t, before.ID, v2.ID)
	require.Equal(t, v2.Ref(), h.jobs.resultRef[job.ID])
	require.EqualValues(t, 2, h.fetcher.calls.Load())
}

func TestScenario_TooLargeFreezesProgress(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = apperror.TooLarge("repository acme/widgets", 100, 5000)
	job := newJob(t, widgets)

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.Error(t, err)

	require.Equal(t, entity.JobStatusFailed, h.jobs.status[job.ID])
	require.Equal(t, []int{5}, h.jobs.progress[job.ID])
	failure := h.jobs.failure[job.ID]
	require.Contains(t, failure.Message, "size limit")
	require.False(t, failure.Retryable)
	require.Zero(t, h.store.len())
	require.Zero(t, h.scorer.calls.Load())

	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_RateLimitedScorerIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.scorer.err = apperror.RateLimited(30*time.Second, errBoom)
	job := newJob(t, widgets)

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.Error(t, err)

	failure := h.jobs.failure[job.ID]
	require.True(t, failure.Retryable)
	require.Equal(t, 30*time.Second, failure.RetryAfter)
	require.Equal(t, 60, h.jobs.progress[job.ID][len(h.jobs.progress[job.ID])-1])
	require.Zero(t, h.store.len())
}

func TestRun_DiagramUploadFailureKeepsDiagramInline(t *testing.T) {
	h := newHarness(t)
	h.diagrams.err = errBoom
	job := newJob(t, widgets)

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, h.jobs.status[job.ID])

	stored, _ := h.store.get(entity.NewCacheKey("acme", "widgets", "v1"))
	report := decodeReport(t, stored)
	require.Empty(t, report.Diagram.URL)
	require.Contains(t, report.Diagram.Source, `root["acme/widgets"]`)
}

func TestRun_WithoutDiagramStore(t *testing.T) {
	h := newHarness(t)
	h.deps.Diagrams = nil

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), newJob(t, widgets))
	require.NoError(t, err)

	stored, _ := h.store.get(entity.NewCacheKey("acme", "widgets", "v1"))
	report := decodeReport(t, stored)
	require.Empty(t, report.Diagram.URL)
	require.NotEmpty(t, report.Diagram.Source)
}

func TestRun_SequentialMode(t *testing.T) {
	h := newHarness(t)
	job := newJob(t, widgets)

	outcome, err := h.runner(t, ModeSequential).Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, optimizedStages, outcome.Executed)
	require.Equal(t, []int{7, 14, 21, 28, 35, 42, 50, 57, 64, 71, 78, 85, 92, 100}, h.jobs.progress[job.ID])
}

func TestRun_UnreadablePayloadFailsJob(t *testing.T) {
	h := newHarness(t)
	job := newJob(t, widgets)
	job.Payload = datatypes.JSON("not json")

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, entity.JobStatusFailed, h.jobs.status[job.ID])
	require.Contains(t, h.jobs.failure[job.ID].Message, "unreadable job payload")
	require.False(t, h.jobs.failure[job.ID].Retryable)
	require.Zero(t, h.fetcher.calls.Load())
}

func TestRun_UnplannableAggregateKeepsCause(t *testing.T) {
	h := newHarness(t)
	job := newJob(t, entity.EvaluationRequest{Owner: "acme", Repositories: []string{" ", ""}})

	outcome, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.Nil(t, outcome)

	var inputErr *apperror.InputError
	require.ErrorAs(t, err, &inputErr)
	require.Equal(t, apperror.ReasonInvalid, inputErr.Reason)
	require.Equal(t, entity.JobStatusFailed, h.jobs.status[job.ID])

	failure := h.jobs.failure[job.ID]
	require.Contains(t, failure.Message, "aggregate evaluation needs at least one repository")
	require.NotContains(t, failure.Message, "owner and name are required")
	require.False(t, failure.Retryable)
}

func TestRun_UnknownRepositoryFails(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = apperror.NotFound("repository acme/widgets")
	job := newJob(t, widgets)

	_, err := h.runner(t, ModeOptimized).Run(context.Background(), job)
	require.True(t, apperror.IsNotFound(err))
	require.Equal(t, entity.JobStatusFailed, h.jobs.status[job.ID])
	require.Empty(t, h.jobs.progress[job.ID])
}

func TestEvaluateInline(t *testing.T) {
	h := newHarness(t)
	runner := h.runner(t, ModeOptimized)

	artifact, outcome, err := runner.Evaluate(context.Background(), widgets, nil)
	require.NoError(t, err)
	require.False(t, outcome.ShortCircuited)
	require.Equal(t, "v1", artifact.Version)
	require.False(t, artifact.FromCache)

	again, outcome, err := runner.Evaluate(context.Background(), widgets, nil)
	require.NoError(t, err)
	require.True(t, outcome.ShortCircuited)
	require.True(t, again.FromCache)
	require.Equal(t, artifact.ID, again.ID)
}

func TestCacheLookupUsesPinnedVersion(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errBoom
	ws := pipeline.NewWorkspace(newJob(t, widgets).ID)
	require.NoError(t, pipeline.Seed(ws, RequestKey, entity.EvaluationRequest{Owner: "Acme", Name: "Widgets", PinnedVersion: "abc"}))

	st := NewCacheLookup(h.deps)
	require.NoError(t, st.Execute(context.Background(), ws.Scope(st.Name(), st.Writes())))

	key, ok := pipeline.Get(ws, CacheKeyKey)
	require.True(t, ok)
	require.Equal(t, entity.NewCacheKey("acme", "widgets", "abc"), key)
	hit, _ := pipeline.Get(ws, CacheHitKey)
	require.False(t, hit)
}

func TestStagesSkipWorkAlreadyDone(t *testing.T) {
	h := newHarness(t)
	ws := pipeline.NewWorkspace(newJob(t, widgets).ID)
	require.NoError(t, pipeline.Seed(ws, RequestKey, widgets))
	require.NoError(t, pipeline.Seed(ws, CacheKeyKey, entity.NewCacheKey("acme", "widgets", "v1")))
	require.NoError(t, pipeline.Seed(ws, MetricsKey, entity.Metrics{}))

	st := NewScoreReport(h.deps)
	scope := ws.Scope(st.Name(), st.Writes())
	require.NoError(t, st.Execute(context.Background(), scope))
	require.NoError(t, st.Execute(context.Background(), scope))
	require.EqualValues(t, 1, h.scorer.calls.Load())
}
