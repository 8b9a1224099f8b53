package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

const aggregatePrefix = "@aggregate:"

// NormalizeRepositories lower-cases, dedupes and sorts repository names.
func NormalizeRepositories(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AggregateKey changes whenever any member version changes. The name is a
// digest of the member set so it fits the artifact name column for any
// number of members; the names themselves live in the report.
func AggregateKey(owner string, versions map[string]string) entity.CacheKey {
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	return entity.NewCacheKey(owner, aggregatePrefix+utils.DigestNames(names), utils.DigestVersions(versions))
}

type resolveVersionsStage struct {
	stage
	deps *Deps
}

func NewResolveVersions(d *Deps) pipeline.Stage {
	return &resolveVersionsStage{stage: fatal("resolve_versions", MemberVersionsKey, CacheKeyKey), deps: d}
}

func (s *resolveVersionsStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, CacheKeyKey) {
		return nil
	}
	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return err
	}
	names := NormalizeRepositories(req.Repositories)
	if req.Owner == "" || len(names) == 0 {
		return apperror.Invalid("owner and at least one repository are required")
	}

	versions := make(map[string]string, len(names))
	for _, name := range names {
		v, err := s.deps.Resolver.ResolveVersion(ctx, req.Owner, name)
		if err != nil {
			return fmt.Errorf("resolve %s/%s: %w", req.Owner, name, err)
		}
		versions[name] = v
	}

	if err := pipeline.Set(scope, MemberVersionsKey, versions); err != nil {
		return err
	}
	return pipeline.Set(scope, CacheKeyKey, AggregateKey(req.Owner, versions))
}

type aggregateCacheLookupStage struct {
	stage
	deps *Deps
}

func NewAggregateCacheLookup(d *Deps) pipeline.Stage {
	return &aggregateCacheLookupStage{
		stage: fatal("aggregate_cache_lookup", CachedArtifactKey, pipeline.ResultRefKey, CacheHitKey),
		deps:  d,
	}
}

func (s *aggregateCacheLookupStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, CacheHitKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}
	return lookupInto(ctx, scope, s.deps, key)
}

func (s *aggregateCacheLookupStage) ShortCircuit(r pipeline.Reader) bool {
	hit, _ := pipeline.Get(r, CacheHitKey)
	return hit
}

type memberResult struct {
	Score   entity.MemberScore
	Metrics entity.Metrics
}

func memberKey(name string) pipeline.Key[memberResult] {
	return pipeline.NewKey[memberResult]("member:" + name)
}

// memberEvaluateStage runs the single-repository plan for one member in a
// workspace of its own, pinned to the version resolved by the aggregate.
type memberEvaluateStage struct {
	stage
	repo  string
	inner *pipeline.Orchestrator
}

func NewMemberEvaluate(repo string, inner *pipeline.Orchestrator) pipeline.Stage {
	return &memberEvaluateStage{
		stage: fatal("evaluate:"+repo, memberKey(repo)),
		repo:  repo,
		inner: inner,
	}
}

func (s *memberEvaluateStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	out := memberKey(s.repo)
	if pipeline.Has(scope, out) {
		return nil
	}
	req, err := pipeline.MustGet(scope, RequestKey)
	if err != nil {
		return err
	}
	versions, err := pipeline.MustGet(scope, MemberVersionsKey)
	if err != nil {
		return err
	}
	version, ok := versions[s.repo]
	if !ok {
		return fmt.Errorf("no resolved version for %s", s.repo)
	}

	ws := pipeline.NewWorkspace(scope.JobID())
	defer ws.Discard()
	member := entity.EvaluationRequest{Owner: req.Owner, Name: s.repo, PinnedVersion: version}
	if err := pipeline.Seed(ws, RequestKey, member); err != nil {
		return err
	}

	outcome, err := s.inner.Evaluate(ctx, ws, nil)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", member.Repository(), err)
	}
	artifact, ok := pipeline.Get(ws, ArtifactKey)
	if !ok {
		artifact, ok = pipeline.Get(ws, CachedArtifactKey)
	}
	if !ok {
		return fmt.Errorf("evaluate %s: no artifact produced", member.Repository())
	}

	var report entity.Report
	if err := json.Unmarshal(artifact.Report, &report); err != nil {
		return fmt.Errorf("decode report for %s: %w", member.Repository(), err)
	}
	return pipeline.Set(scope, out, memberResult{
		Score: entity.MemberScore{
			Repository: member.Repository().String(),
			Version:    version,
			Overall:    artifact.OverallScore,
			FromCache:  outcome.ShortCircuited,
		},
		Metrics: report.Metrics,
	})
}

type summarizeStage struct {
	stage
	repos []string
	deps  *Deps
}

func NewSummarize(repos []string, d *Deps) pipeline.Stage {
	return &summarizeStage{stage: fatal("summarize", ReportKey), repos: repos, deps: d}
}

func (s *summarizeStage) Execute(ctx context.Context, scope *pipeline.Scope) error {
	if pipeline.Has(scope, ReportKey) {
		return nil
	}
	key, err := pipeline.MustGet(scope, CacheKeyKey)
	if err != nil {
		return err
	}

	report := &entity.Report{
		Owner:       key.Owner,
		Name:        key.Name,
		Version:     key.Version,
		Metrics:     entity.Metrics{Languages: make(map[string]int)},
		Score:       entity.ScoreCard{Categories: make(map[string]float64, len(s.repos))},
		Diagram:     entity.Diagram{Format: diagramFormat},
		GeneratedAt: s.deps.now(),
	}
	scores := entity.ChartSeries{Label: "Score by repository"}

	var total float64
	for _, repo := range s.repos {
		m, err := pipeline.MustGet(scope, memberKey(repo))
		if err != nil {
			return err
		}
		report.Members = append(report.Members, m.Score)
		report.Score.Categories[repo] = m.Score.Overall
		scores.Points = append(scores.Points, entity.ChartPoint{Label: repo, Value: m.Score.Overall})
		total += m.Score.Overall
		mergeMetrics(&report.Metrics, repo, m.Metrics)
	}

	report.Score.Overall = total / float64(len(s.repos))
	report.Score.Summary = fmt.Sprintf("%d repositories, mean score %.1f", len(s.repos), report.Score.Overall)
	report.Metrics.PrimaryLanguage = primaryLanguage(report.Metrics.Languages)
	report.Charts = []entity.ChartSeries{scores}
	return pipeline.Set(scope, ReportKey, report)
}

func mergeMetrics(dst *entity.Metrics, repo string, m entity.Metrics) {
	dst.TotalFiles += m.TotalFiles
	dst.TotalLines += m.TotalLines
	dst.CodeLines += m.CodeLines
	dst.SecretFindings += m.SecretFindings
	dst.TestFiles += m.TestFiles
	dst.DocFiles += m.DocFiles
	dst.DependencyCount += m.DependencyCount
	dst.HasReadme = dst.HasReadme || m.HasReadme
	dst.HasLicense = dst.HasLicense || m.HasLicense
	dst.HasCI = dst.HasCI || m.HasCI
	dst.PartialAnalysis = dst.PartialAnalysis || m.PartialAnalysis
	for _, w := range m.AnalysisWarnings {
		dst.AnalysisWarnings = append(dst.AnalysisWarnings, repo+": "+w)
	}
	for lang, lines := range m.Languages {
		dst.Languages[lang] += lines
	}
}

func primaryLanguage(langs map[string]int) string {
	best, bestLines := "", -1
	for lang, lines := range langs {
		if lines > bestLines || (lines == bestLines && lang < best) {
			best, bestLines = lang, lines
		}
	}
	return best
}

func NewAggregateCacheWrite(d *Deps) pipeline.Stage {
	return newCacheWrite("aggregate_cache_write", d)
}

// AggregatePlan evaluates every repository in turn. inner runs the
// single-repository plan for each member.
func AggregatePlan(d *Deps, inner *pipeline.Orchestrator, repositories []string) (*pipeline.Plan, error) {
	repos := NormalizeRepositories(repositories)
	if len(repos) == 0 {
		return nil, apperror.Invalid("aggregate evaluation needs at least one repository")
	}

	list := []pipeline.Stage{NewResolveVersions(d), NewAggregateCacheLookup(d)}
	for _, repo := range repos {
		list = append(list, NewMemberEvaluate(repo, inner))
	}
	list = append(list, NewSummarize(repos, d), NewAggregateCacheWrite(d))
	return pipeline.Sequential(list...)
}
