// Package pipeline runs evaluation stages against a job record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/tnqbao/gau-repo-evaluator/pipeline"

const DefaultLease = 15 * time.Minute

// ErrNotClaimed wraps every error returned before the job was claimed.
var ErrNotClaimed = errors.New("job not claimed")

// JobStore is the subset of job persistence the orchestrator mutates.
type JobStore interface {
	Claim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, lease time.Duration) error
	Complete(ctx context.Context, id uuid.UUID, resultRef string) error
	Fail(ctx context.Context, id uuid.UUID, failure entity.JobFailure) error
}

// ProgressFunc receives each checkpoint below 100 as it is reached.
type ProgressFunc func(ctx context.Context, progress int)

// Outcome describes a successful run.
type Outcome struct {
	ResultRef      string
	ShortCircuited bool
	Executed       []string
}

type Orchestrator struct {
	plan     *Plan
	jobs     JobStore
	logger   *infra.LoggerClient
	workerID string
	lease    time.Duration

	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter
}

type Option func(*Orchestrator)

func WithWorkerID(id string) Option {
	return func(o *Orchestrator) { o.workerID = id }
}

func WithLease(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lease = d
		}
	}
}

func NewOrchestrator(plan *Plan, jobs JobStore, logger *infra.LoggerClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plan:   plan,
		jobs:   jobs,
		logger: logger,
		lease:  DefaultLease,
		tracer: otel.Tracer(instrumentationName),
	}
	if host, err := os.Hostname(); err == nil {
		o.workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := otel.Meter(instrumentationName)
	if h, err := meter.Float64Histogram("evaluation.stage.duration",
		metric.WithDescription("Stage execution time"),
		metric.WithUnit("s"),
	); err == nil {
		o.stageDuration = h
	}
	if c, err := meter.Int64Counter("evaluation.runs",
		metric.WithDescription("Finished evaluation runs by outcome"),
	); err == nil {
		o.runs = c
	}
	return o
}

func (o *Orchestrator) Plan() *Plan { return o.plan }

// Run claims the job, executes the plan and records the terminal status. The
// workspace is discarded before Run returns. A claim failure is returned
// without touching the job.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID, ws *Workspace) (*Outcome, error) {
	defer ws.Discard()

	if _, err := o.jobs.Claim(ctx, jobID, o.workerID, o.lease); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotClaimed, jobID, err)
	}

	ctx, span := o.tracer.Start(ctx, "evaluation.run", trace.WithAttributes(attribute.String("job.id", jobID.String())))
	defer span.End()

	o.logger.InfoWithContextf(ctx, "[Orchestrator] Job %s claimed by %s", jobID, o.workerID)

	last := 0
	progress := func(ctx context.Context, p int) {
		if p <= last {
			return
		}
		last = p
		utils.BestEffort(ctx, o.logger, fmt.Sprintf("progress %d for job %s", p, jobID), func(ctx context.Context) error {
			return o.jobs.UpdateProgress(ctx, jobID, p, o.lease)
		})
	}

	outcome, runErr := o.Evaluate(ctx, ws, progress)

	// Terminal writes must land even if the caller's context is gone.
	finalCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		o.countRun(ctx, "failed")

		failure := FailureFrom(runErr)
		o.logger.ErrorWithContextf(ctx, runErr, "[Orchestrator] Job %s failed at progress %d (retryable=%v)", jobID, last, failure.Retryable)
		if err := o.jobs.Fail(finalCtx, jobID, failure); err != nil {
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to record failure for job %s", jobID)
			return nil, errors.Join(runErr, apperror.Persistence("fail job", err))
		}
		return nil, runErr
	}

	if err := o.jobs.Complete(finalCtx, jobID, outcome.ResultRef); err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to complete job %s", jobID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.Persistence("complete job", err)
	}

	if outcome.ShortCircuited {
		o.countRun(ctx, "cache_hit")
	} else {
		o.countRun(ctx, "completed")
	}
	span.SetStatus(codes.Ok, "")
	o.logger.InfoWithContextf(ctx, "[Orchestrator] Job %s completed with result %s (stages run: %d)", jobID, outcome.ResultRef, len(outcome.Executed))
	return outcome, nil
}

// Evaluate executes the plan without any job record. progress may be nil.
func (o *Orchestrator) Evaluate(ctx context.Context, ws *Workspace, progress ProgressFunc) (*Outcome, error) {
	outcome := &Outcome{}
	var mu sync.Mutex
	executed := func(name string) {
		mu.Lock()
		outcome.Executed = append(outcome.Executed, name)
		mu.Unlock()
	}

	for _, group := range o.plan.groups {
		if err := o.runGroup(ctx, ws, group, executed); err != nil {
			return nil, err
		}

		if shortCircuited(ws, group) {
			ref, ok := Get(ws, ResultRefKey)
			if !ok || ref == "" {
				return nil, errors.New("short-circuit without a result reference")
			}
			outcome.ResultRef = ref
			outcome.ShortCircuited = true
			return outcome, nil
		}

		if progress != nil && group.Checkpoint < 100 {
			progress(ctx, group.Checkpoint)
		}
	}

	ref, ok := Get(ws, ResultRefKey)
	if !ok || ref == "" {
		return nil, errors.New("pipeline finished without a result reference")
	}
	outcome.ResultRef = ref
	return outcome, nil
}

func (o *Orchestrator) runGroup(ctx context.Context, ws *Workspace, group Group, executed func(string)) error {
	if len(group.Stages) == 1 {
		executed(group.Stages[0].Name())
		return o.runStage(ctx, ws, group.Stages[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range group.Stages {
		st := st
		executed(st.Name())
		g.Go(func() error {
			return o.runStage(gctx, ws, st)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runStage(ctx context.Context, ws *Workspace, st Stage) (err error) {
	ctx, span := o.tracer.Start(ctx, "evaluation.stage."+st.Name(), trace.WithAttributes(
		attribute.String("stage.name", st.Name()),
		attribute.String("stage.policy", st.Policy().String()),
	))
	defer span.End()

	scope := ws.Scope(st.Name(), st.Writes())
	start := time.Now()

	err = o.execute(ctx, st, scope)

	outcome := "ok"
	defer func() {
		if o.stageDuration != nil {
			o.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("stage", st.Name()),
				attribute.String("outcome", outcome),
			))
		}
	}()

	if err == nil {
		o.logger.DebugWithContextf(ctx, "[Orchestrator] Stage %s finished in %s", st.Name(), time.Since(start))
		return nil
	}

	span.RecordError(err)
	if st.Policy() == Degradable {
		outcome = "degraded"
		o.logger.WarningWithContextf(ctx, "[Orchestrator] Degradable stage %s failed, continuing: %v", st.Name(), err)
		if d, ok := st.(Degrader); ok {
			utils.BestEffort(ctx, o.logger, "fallback for "+st.Name(), func(context.Context) error {
				return d.Fallback(scope)
			})
		}
		return nil
	}

	outcome = "failed"
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("stage %s: %w", st.Name(), err)
}

func (o *Orchestrator) execute(ctx context.Context, st Stage, scope *Scope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Execute(ctx, scope)
}

func (o *Orchestrator) countRun(ctx context.Context, outcome string) {
	if o.runs != nil {
		o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func shortCircuited(ws *Workspace, group Group) bool {
	for _, st := range group.Stages {
		if sc, ok := st.(ShortCircuiter); ok && sc.ShortCircuit(ws) {
			return true
		}
	}
	return false
}

// FailureFrom maps a run error onto the job record fields.
func FailureFrom(err error) entity.JobFailure {
	message := "evaluation failed"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	return entity.JobFailure{
		Message:    message,
		Retryable:  apperror.IsRetryable(err),
		RetryAfter: apperror.RetryAfter(err),
	}
}
