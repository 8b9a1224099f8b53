// Package service accepts evaluation requests and answers questions about
// jobs and artifacts. HTTP handlers, the consumer and the CLI share it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/stages"
	"gorm.io/datatypes"
)

var (
	ErrNotRetryable = errors.New("only failed jobs with a retryable error can be retried")
	ErrNoResult     = errors.New("job has no result yet")
)

const (
	DefaultMaxRepositories = 20
	reconcileBatch         = 100
	leaseExpiredMessage    = "lease expired before the run finished"
)

type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	FailExpiredLeases(ctx context.Context, now time.Time, failure entity.JobFailure) (int64, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]entity.Job, error)
}

type ArtifactReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Artifact, bool, error)
	ListByRepository(ctx context.Context, owner, name string) ([]entity.Artifact, error)
}

// ArtifactCache is satisfied by cache.Coordinator.
type ArtifactCache interface {
	Lookup(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error)
	Invalidate(ctx context.Context, key entity.CacheKey) error
}

type Publisher interface {
	PublishEvaluation(ctx context.Context, jobID uuid.UUID) error
}

// JobRunner is satisfied by stages.Runner.
type JobRunner interface {
	Run(ctx context.Context, job *entity.Job) (*pipeline.Outcome, error)
	Evaluate(ctx context.Context, req entity.EvaluationRequest, progress pipeline.ProgressFunc) (*entity.Artifact, *pipeline.Outcome, error)
}

type Dependencies struct {
	Jobs      JobStore
	Artifacts ArtifactReader
	Cache     ArtifactCache
	Resolver  stages.VersionResolver
	// Publisher may be nil; submitted jobs then wait for Execute or the
	// reconciler.
	Publisher Publisher
	Runner    JobRunner
	Logger    *infra.LoggerClient
}

type EvaluationService struct {
	deps            Dependencies
	maxRepositories int
	lease           time.Duration
	publishTries    uint
	validate        *validator.Validate
	now             func() time.Time
}

type Option func(*EvaluationService)

func WithMaxRepositories(n int) Option {
	return func(s *EvaluationService) {
		if n > 0 {
			s.maxRepositories = n
		}
	}
}

func WithLease(d time.Duration) Option {
	return func(s *EvaluationService) {
		if d > 0 {
			s.lease = d
		}
	}
}

func WithPublishTries(n uint) Option {
	return func(s *EvaluationService) {
		if n > 0 {
			s.publishTries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *EvaluationService) { s.now = now }
}

// Empty values pass; presence is checked by the required tags.
var repoSegment = regexp.MustCompile(`^[A-Za-z0-9._-]*$`)

func NewEvaluationService(deps Dependencies, opts ...Option) *EvaluationService {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("repo_segment", func(fl validator.FieldLevel) bool {
		return repoSegment.MatchString(fl.Field().String())
	})

	s := &EvaluationService{
		deps:            deps,
		maxRepositories: DefaultMaxRepositories,
		lease:           pipeline.DefaultLease,
		publishTries:    3,
		validate:        v,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest names one repository, or several of one owner for an
// aggregate evaluation.
type SubmitRequest struct {
	Owner        string   `json:"owner" validate:"required,max=255,repo_segment"`
	Name         string   `json:"name" validate:"required_without=Repositories,excluded_with=Repositories,max=255,repo_segment"`
	Repositories []string `json:"repositories" validate:"max=100,dive,max=255,repo_segment"`
}

func (s *EvaluationService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	payload, err := s.request(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s.create(ctx, &entity.Job{Kind: payload.Kind(), Payload: datatypes.JSON(body)})
}

// EvaluateNow runs the request inline without a job record.
func (s *EvaluationService) EvaluateNow(ctx context.Context, req SubmitRequest, progress pipeline.ProgressFunc) (*entity.Artifact, *pipeline.Outcome, error) {
	payload, err := s.request(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return s.deps.Runner.Evaluate(ctx, payload, progress)
}

func (s *EvaluationService) request(ctx context.Context, req SubmitRequest) (entity.EvaluationRequest, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return entity.EvaluationRequest{}, apperror.Invalid(validationMessage(err))
	}

	payload := entity.EvaluationRequest{Owner: req.Owner, Name: req.Name}
	if len(req.Repositories) > 0 {
		names := stages.NormalizeRepositories(req.Repositories)
		if len(names) == 0 {
			return payload, apperror.Invalid("repositories must name at least one repository")
		}
		if len(names) > s.maxRepositories {
			return payload, apperror.TooManyItems("aggregate repositories", int64(s.maxRepositories), int64(len(names)))
		}
		payload.Repositories = names
	}
	return payload, nil
}

func (s *EvaluationService) create(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		return nil, apperror.Persistence("create job", err)
	}
	s.deps.Logger.InfoWithContextf(ctx, "[Evaluation] Job %s accepted (%s)", job.ID, job.Kind)

	if err := s.publish(ctx, job.ID); err != nil {
		s.deps.Logger.WarningWithContextf(ctx, "[Evaluation] Job %s stays pending, publish failed: %v", job.ID, err)
	}
	return job, nil
}

func (s *EvaluationService) publish(ctx context.Context, id uuid.UUID) error {
	if s.deps.Publisher == nil {
		return nil
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.deps.Publisher.PublishEvaluation(ctx, id)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.publishTries))
	return err
}

func (s *EvaluationService) Job(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.deps.Jobs.FindByID(ctx, id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, apperror.NotFound(fmt.Sprintf("job %s", id))
	}
	if err != nil {
		return nil, apperror.Persistence("find job", err)
	}
	return job, nil
}

// Retry resubmits the payload of a failed, retryable job as a new job.
func (s *EvaluationService) Retry(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	prev, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != entity.JobStatusFailed || !prev.Retryable {
		return nil, ErrNotRetryable
	}
	return s.create(ctx, &entity.Job{Kind: prev.Kind, Payload: prev.Payload, RetryOf: &prev.ID})
}

// Execute runs a pending job to a terminal status.
func (s *EvaluationService) Execute(ctx context.Context, id uuid.UUID) (*pipeline.Outcome, error) {
	job, err := s.deps.Jobs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrNotClaimed, id, err)
	}
	if job.Status != entity.JobStatusPending {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrNotClaimed, id, repository.ErrJobNotClaimable)
	}
	return s.deps.Runner.Run(ctx, job)
}

// Result returns the artifact a completed job points at.
func (s *EvaluationService) Result(ctx context.Context, id uuid.UUID) (*entity.Artifact, error) {
	job, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.JobStatusCompleted || job.ResultRef == "" {
		return nil, ErrNoResult
	}
	artifactID, err := uuid.Parse(job.ResultRef)
	if err != nil {
		return nil, fmt.Errorf("job %s has result ref %q: %w", id, job.ResultRef, err)
	}
	artifact, found, err := s.deps.Artifacts.FindByID(ctx, artifactID)
	if err != nil {
		return nil, apperror.Persistence("find artifact", err)
	}
	if !found {
		return nil, apperror.NotFound(fmt.Sprintf("artifact %s", artifactID))
	}
	return artifact, nil
}

// Artifact returns the evaluation of the repository's current version.
func (s *EvaluationService) Artifact(ctx context.Context, owner, name string) (*entity.Artifact, error) {
	version, err := s.deps.Resolver.ResolveVersion(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	key := entity.NewCacheKey(owner, name, version)
	artifact, found, err := s.deps.Cache.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound(fmt.Sprintf("no evaluation of %s/%s at %s", key.Owner, key.Name, version))
	}
	return artifact, nil
}

func (s *EvaluationService) History(ctx context.Context, owner, name string) ([]entity.Artifact, error) {
	key := entity.NewCacheKey(owner, name, "-")
	artifacts, err := s.deps.Artifacts.ListByRepository(ctx, key.Owner, key.Name)
	if err != nil {
		return nil, apperror.Persistence("list artifacts", err)
	}
	return artifacts, nil
}

func (s *EvaluationService) Invalidate(ctx context.Context, owner, name, version string) error {
	key := entity.NewCacheKey(owner, name, version)
	if err := key.Validate(); err != nil {
		return apperror.Invalid(err.Error())
	}
	return s.deps.Cache.Invalidate(ctx, key)
}

type ReconcileResult struct {
	Expired     int64 `json:"expired"`
	Republished int   `json:"republished"`
}

// Reconcile fails processing jobs whose lease ran out and republishes
// pending jobs that nobody picked up within one lease period.
func (s *EvaluationService) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	now := s.now()
	expired, err := s.deps.Jobs.FailExpiredLeases(ctx, now, entity.JobFailure{
		Message:   leaseExpiredMessage,
		Retryable: true,
	})
	if err != nil {
		return nil, apperror.Persistence("fail expired leases", err)
	}

	result := &ReconcileResult{Expired: expired}
	if s.deps.Publisher == nil {
		return result, nil
	}

	stale, err := s.deps.Jobs.FindStalePending(ctx, now.Add(-s.lease), reconcileBatch)
	if err != nil {
		return result, apperror.Persistence("find stale jobs", err)
	}
	for _, job := range stale {
		if err := s.publish(ctx, job.ID); err != nil {
			s.deps.Logger.WarningWithContextf(ctx, "[Evaluation] Republish of job %s failed: %v", job.ID, err)
			continue
		}
		result.Republished++
	}

	if result.Expired > 0 || result.Republished > 0 {
		s.deps.Logger.InfoWithContextf(ctx, "[Evaluation] Reconciled: %d expired, %d republished", result.Expired, result.Republished)
	}
	return result, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag())
}
