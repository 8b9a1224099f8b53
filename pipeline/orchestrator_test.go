package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"pgregory.net/rapid"
)

func mustPlan(t testing.TB, plan *Plan, err error) *Plan {
	t.Helper()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func TestRun_SequentialProgressAndCompletion(t *testing.T) {
	jobs := newFakeJobs()
	plan := mustPlan(t, Sequential(
		writer("one", NewKey[int]("one"), 1),
		writer("two", NewKey[int]("two"), 2),
		writer("three", NewKey[int]("three"), 3),
		resultWriter("artifact-1"),
	))
	o := NewOrchestrator(plan, jobs, infra.NewDiscardLogger())

	outcome, err := o.Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, "artifact-1", outcome.ResultRef)
	require.Equal(t, []int{25, 50, 75, 100}, jobs.progress)
	require.Equal(t, entity.JobStatusCompleted, jobs.status)
	require.Equal(t, "artifact-1", jobs.resultRef)
}

func TestRun_OptimizedGroupsRunConcurrently(t *testing.T) {
	jobs := newFakeJobs()
	var running, peak int32
	slow := func(name string) *testStage {
		key := NewKey[string](name)
		return &testStage{name: name, writes: []string{key.Name()}, run: func(ctx context.Context, s *Scope) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return Set(s, key, name)
		}}
	}
	plan := mustPlan(t, NewPlan(
		Step(20, writer("fetch", NewKey[int]("src"), 1)),
		Concurrent(55, slow("a"), slow("b"), slow("c")),
		Step(100, resultWriter("ref")),
	))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&peak))
	require.Equal(t, []int{20, 55, 100}, jobs.progress)
}

func TestRun_FatalFailureFreezesProgress(t *testing.T) {
	jobs := newFakeJobs()
	var laterRan bool
	plan := mustPlan(t, NewPlan(
		Step(5, writer("lookup", NewKey[bool]("hit"), false)),
		Step(20, failing("fetch", Fatal, apperror.TooLarge("repository acme/widgets", 10, 20))),
		Step(55, &testStage{name: "analyze", run: func(ctx context.Context, s *Scope) error { laterRan = true; return nil }}),
		Step(100, resultWriter("ref")),
	))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.Error(t, err)
	require.False(t, laterRan)
	require.Equal(t, entity.JobStatusFailed, jobs.status)
	require.Equal(t, 5, jobs.lastProgress())
	require.Contains(t, jobs.failure.Message, "size limit")
	require.False(t, jobs.failure.Retryable)
}

func TestRun_TransientFailureIsRetryable(t *testing.T) {
	jobs := newFakeJobs()
	plan := mustPlan(t, NewPlan(
		Step(50, failing("score", Fatal, apperror.RateLimited(time.Minute, errors.New("429")))),
		Step(100, resultWriter("ref")),
	))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.True(t, apperror.IsRetryable(err))
	require.True(t, jobs.failure.Retryable)
	require.Equal(t, time.Minute, jobs.failure.RetryAfter)
}

func TestRun_DegradableFailureUsesFallback(t *testing.T) {
	jobs := newFakeJobs()
	diagram := NewKey[string]("diagram")
	degradable := degradableStage{&testStage{
		name:     "render_diagram",
		policy:   Degradable,
		writes:   []string{diagram.Name()},
		run:      func(ctx context.Context, s *Scope) error { return errors.New("renderer down") },
		fallback: func(s *Scope) error { return Set(s, diagram, "placeholder") },
	}}
	plan := mustPlan(t, NewPlan(
		Concurrent(50, degradable, writer("chart", NewKey[int]("chart"), 1)),
		Step(100, resultWriter("ref")),
	))
	ws := NewWorkspace(uuid.New())
	var inspected string
	ws.OnDiscard(func() { inspected, _ = Get(ws, diagram) })

	outcome, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), ws)
	require.NoError(t, err)
	require.Equal(t, "ref", outcome.ResultRef)
	require.Equal(t, "placeholder", inspected)
	require.Equal(t, entity.JobStatusCompleted, jobs.status)
}

func TestRun_DegradableFallbackErrorIsSwallowed(t *testing.T) {
	jobs := newFakeJobs()
	degradable := degradableStage{&testStage{
		name:     "cleanup",
		policy:   Degradable,
		run:      func(ctx context.Context, s *Scope) error { return errors.New("busy") },
		fallback: func(s *Scope) error { return errors.New("still busy") },
	}}
	plan := mustPlan(t, NewPlan(Step(50, resultWriter("ref")), Step(100, degradable)))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, jobs.status)
}

func TestRun_ShortCircuitSkipsRemainingStages(t *testing.T) {
	jobs := newFakeJobs()
	hit := NewKey[bool]("hit")
	lookup := lookupStage{&testStage{
		name:   "cache_lookup",
		writes: []string{hit.Name(), ResultRefKey.Name()},
		run: func(ctx context.Context, s *Scope) error {
			if err := Set(s, hit, true); err != nil {
				return err
			}
			return Set(s, ResultRefKey, "cached-ref")
		},
		hit: func(r Reader) bool { v, _ := Get(r, hit); return v },
	}}
	var analyzed int32
	analyze := &testStage{name: "analyze", run: func(ctx context.Context, s *Scope) error {
		atomic.AddInt32(&analyzed, 1)
		return nil
	}}
	plan := mustPlan(t, NewPlan(Step(5, lookup), Step(55, analyze), Step(100, &testStage{name: "write"})))

	outcome, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.NoError(t, err)
	require.True(t, outcome.ShortCircuited)
	require.Equal(t, []string{"cache_lookup"}, outcome.Executed)
	require.Zero(t, atomic.LoadInt32(&analyzed))
	require.Equal(t, []int{100}, jobs.progress)
	require.Equal(t, "cached-ref", jobs.resultRef)
}

func TestRun_ProgressFailuresAreTolerated(t *testing.T) {
	jobs := newFakeJobs()
	jobs.progressFn = func(int) error { return errors.New("db timeout") }
	plan := mustPlan(t, Sequential(writer("a", NewKey[int]("a"), 1), resultWriter("ref")))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, jobs.status)
	require.Equal(t, []int{100}, jobs.progress)
}

func TestRun_ClaimFailureLeavesJobAlone(t *testing.T) {
	jobs := newFakeJobs()
	jobs.claimErr = errors.New("job is not pending")
	ws := NewWorkspace(uuid.New())
	discarded := false
	ws.OnDiscard(func() { discarded = true })

	_, err := NewOrchestrator(mustPlan(t, Sequential(resultWriter("ref"))), jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), ws)
	require.ErrorContains(t, err, "not pending")
	require.ErrorIs(t, err, ErrNotClaimed)
	require.Nil(t, jobs.failure)
	require.True(t, discarded)
}

func TestRun_PanickingStageFailsJob(t *testing.T) {
	jobs := newFakeJobs()
	boom := &testStage{name: "boom", run: func(ctx context.Context, s *Scope) error { panic("nil map") }}
	plan := mustPlan(t, NewPlan(Step(50, boom), Step(100, resultWriter("ref"))))

	_, err := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))
	require.ErrorContains(t, err, "panic")
	require.Equal(t, entity.JobStatusFailed, jobs.status)
}

func TestEvaluate_ConcurrentFatalStopsGroup(t *testing.T) {
	plan := mustPlan(t, NewPlan(
		Concurrent(50,
			failing("secrets", Fatal, apperror.Unavailable(errors.New("down"))),
			&testStage{name: "slow", run: func(ctx context.Context, s *Scope) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		),
		Step(100, resultWriter("ref")),
	))

	_, err := NewOrchestrator(plan, newFakeJobs(), infra.NewDiscardLogger()).Evaluate(context.Background(), NewWorkspace(uuid.New()), nil)
	require.ErrorContains(t, err, "stage secrets")
	require.True(t, apperror.IsRetryable(err))
}

func TestEvaluate_RequiresResultRef(t *testing.T) {
	plan := mustPlan(t, Sequential(writer("a", NewKey[int]("a"), 1)))
	_, err := NewOrchestrator(plan, newFakeJobs(), infra.NewDiscardLogger()).Evaluate(context.Background(), NewWorkspace(uuid.New()), nil)
	require.ErrorContains(t, err, "result reference")
}

// Progress writes strictly increase, stop at the last checkpoint reached on
// failure and end at 100 only through completion.
func TestRun_ProgressProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "stages")
		failAt := rapid.IntRange(-1, n-1).Draw(t, "failAt")

		stages := make([]Stage, n)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("s%d", i)
			switch {
			case i == failAt:
				stages[i] = failing(name, Fatal, apperror.Invalid("broken"))
			case i == n-1:
				stages[i] = resultWriter("ref")
			default:
				stages[i] = writer(name, NewKey[int](name), i)
			}
		}
		plan, err := Sequential(stages...)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}

		jobs := newFakeJobs()
		_, runErr := NewOrchestrator(plan, jobs, infra.NewDiscardLogger()).Run(context.Background(), uuid.New(), NewWorkspace(uuid.New()))

		for i := 1; i < len(jobs.progress); i++ {
			if jobs.progress[i] <= jobs.progress[i-1] {
				t.Fatalf("progress not increasing: %v", jobs.progress)
			}
		}

		if failAt < 0 {
			if runErr != nil {
				t.Fatalf("unexpected error: %v", runErr)
			}
			if jobs.lastProgress() != 100 || jobs.status != entity.JobStatusCompleted {
				t.Fatalf("expected completion at 100, got %v %s", jobs.progress, jobs.status)
			}
			return
		}

		if runErr == nil || jobs.status != entity.JobStatusFailed {
			t.Fatalf("expected failure, got %v %s", runErr, jobs.status)
		}
		want := 0
		if failAt > 0 {
			want = failAt * 100 / n
		}
		if jobs.lastProgress() != want {
			t.Fatalf("progress frozen at %d, want %d (%v)", jobs.lastProgress(), want, jobs.progress)
		}
		if jobs.failure.Message == "" {
			t.Fatalf("failed job without message")
		}
	})
}
