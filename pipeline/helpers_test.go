package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

type testStage struct {
	name     string
	policy   Policy
	writes   []string
	run      func(ctx context.Context, s *Scope) error
	fallback func(s *Scope) error
	hit      func(r Reader) bool
}

func (s *testStage) Name() string     { return s.name }
func (s *testStage) Policy() Policy   { return s.policy }
func (s *testStage) Writes() []string { return s.writes }

func (s *testStage) Execute(ctx context.Context, scope *Scope) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, scope)
}

type degradableStage struct{ *testStage }

func (s degradableStage) Fallback(scope *Scope) error { return s.fallback(scope) }

type lookupStage struct{ *testStage }

func (s lookupStage) ShortCircuit(r Reader) bool { return s.hit(r) }

func writer[T any](name string, key Key[T], value T) *testStage {
	return &testStage{
		name:   name,
		writes: []string{key.Name()},
		run: func(ctx context.Context, s *Scope) error {
			return Set(s, key, value)
		},
	}
}

func failing(name string, policy Policy, err error) *testStage {
	return &testStage{
		name:   name,
		policy: policy,
		run:    func(ctx context.Context, s *Scope) error { return err },
	}
}

func resultWriter(ref string) *testStage {
	return writer("cache_write", ResultRefKey, ref)
}

type fakeJobs struct {
	mu         sync.Mutex
	status     entity.JobStatus
	progress   []int
	resultRef  string
	failure    *entity.JobFailure
	claimErr   error
	progressFn func(p int) error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{status: entity.JobStatusPending}
}

func (f *fakeJobs) Claim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.status = entity.JobStatusProcessing
	return &entity.Job{ID: id, Status: f.status}, nil
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, lease time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressFn != nil {
		if err := f.progressFn(progress); err != nil {
			return err
		}
	}
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobs) Complete(ctx context.Context, id uuid.UUID, resultRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = entity.JobStatusCompleted
	f.progress = append(f.progress, 100)
	f.resultRef = resultRef
	return nil
}

func (f *fakeJobs) Fail(ctx context.Context, id uuid.UUID, failure entity.JobFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = entity.JobStatusFailed
	f.failure = &failure
	return nil
}

func (f *fakeJobs) lastProgress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return 0
	}
	return f.progress[len(f.progress)-1]
}
