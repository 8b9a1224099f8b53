package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
)

// Runner picks the plan for a job and drives it through an orchestrator.
// Repository jobs share one orchestrator; aggregate plans depend on the
// member list and are built per job.
type Runner struct {
	deps       *Deps
	jobs       pipeline.JobStore
	opts       []pipeline.Option
	repository *pipeline.Orchestrator
}

func NewRunner(mode string, d *Deps, jobs pipeline.JobStore, opts ...pipeline.Option) (*Runner, error) {
	plan, err := RepositoryPlan(mode, d)
	if err != nil {
		return nil, err
	}
	return &Runner{
		deps:       d,
		jobs:       jobs,
		opts:       opts,
		repository: pipeline.NewOrchestrator(plan, jobs, d.Logger, opts...),
	}, nil
}

func (r *Runner) orchestratorFor(req entity.EvaluationRequest) (*pipeline.Orchestrator, error) {
	if req.Kind() != entity.JobKindAggregate {
		return r.repository, nil
	}
	plan, err := AggregatePlan(r.deps, r.repository, req.Repositories)
	if err != nil {
		return nil, err
	}
	return pipeline.NewOrchestrator(plan, r.jobs, r.deps.Logger, r.opts...), nil
}

// Run executes a persisted job. A job whose payload is unreadable or whose
// plan cannot be built still goes through an orchestrator, so it is claimed
// and ends failed with that cause instead of staying pending.
func (r *Runner) Run(ctx context.Context, job *entity.Job) (*pipeline.Outcome, error) {
	var req entity.EvaluationRequest
	orch, err := r.decode(job, &req)
	if err != nil {
		r.deps.Logger.WarningWithContextf(ctx, "[Runner] Job %s cannot be planned: %v", job.ID, err)
		orch, err = r.rejecting(err)
		if err != nil {
			return nil, err
		}
	}

	ws := pipeline.NewWorkspace(job.ID)
	if err := pipeline.Seed(ws, RequestKey, req); err != nil {
		return nil, err
	}
	return orch.Run(ctx, job.ID, ws)
}

func (r *Runner) decode(job *entity.Job, req *entity.EvaluationRequest) (*pipeline.Orchestrator, error) {
	if err := json.Unmarshal(job.Payload, req); err != nil {
		return nil, apperror.Invalid(fmt.Sprintf("unreadable job payload: %v", err))
	}
	return r.orchestratorFor(*req)
}

// rejecting builds a one-stage orchestrator that fails with cause.
func (r *Runner) rejecting(cause error) (*pipeline.Orchestrator, error) {
	plan, err := pipeline.Sequential(&rejectStage{stage: fatal("plan_job"), cause: cause})
	if err != nil {
		return nil, err
	}
	return pipeline.NewOrchestrator(plan, r.jobs, r.deps.Logger, r.opts...), nil
}

type rejectStage struct {
	stage
	cause error
}

func (s *rejectStage) Execute(context.Context, *pipeline.Scope) error { return s.cause }

// Evaluate runs a request inline with no job record and returns the
// resulting artifact.
func (r *Runner) Evaluate(ctx context.Context, req entity.EvaluationRequest, progress pipeline.ProgressFunc) (*entity.Artifact, *pipeline.Outcome, error) {
	orch, err := r.orchestratorFor(req)
	if err != nil {
		return nil, nil, err
	}

	ws := pipeline.NewWorkspace(uuid.New())
	defer ws.Discard()
	if err := pipeline.Seed(ws, RequestKey, req); err != nil {
		return nil, nil, err
	}

	outcome, err := orch.Evaluate(ctx, ws, progress)
	if err != nil {
		return nil, nil, err
	}
	artifact, ok := pipeline.Get(ws, ArtifactKey)
	if !ok {
		artifact, ok = pipeline.Get(ws, CachedArtifactKey)
	}
	if !ok {
		return nil, nil, fmt.Errorf("evaluation of %s produced no artifact", req.Repository())
	}
	return artifact, outcome, nil
}
