package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-repo-evaluator/cache"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"gorm.io/datatypes"
)

var errBoom = errors.New("boom")

type fakeResolver struct {
	mu       sync.Mutex
	versions map[string]string
	err      error
}

func (r *fakeResolver) ResolveVersion(ctx context.Context, owner, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	v, ok := r.versions[owner+"/"+name]
	if !ok {
		return "", fmt.Errorf("unknown repository %s/%s", owner, name)
	}
	return v, nil
}

func (r *fakeResolver) set(repo, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[repo] = version
}

// fakeFetcher writes a small Go project into dir. Each version adds one file.
type fakeFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, repo entity.RepositoryRef, version, dir string) (*entity.SourceSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	files := map[string]string{
		"go.mod":                     "module example.com/" + repo.Name + "\n\nrequire github.com/google/uuid v1.6.0\n",
		"main.go":                    "package main\n\n// entry\nfunc main() {}\n",
		"main_test.go":               "package main\n\nimport \"testing\"\n\nfunc TestMain(t *testing.T) {}\n",
		"README.md":                  "# " + repo.Name + "\n\n## Usage\n\nrun it\n",
		"internal/store/db.go":       "package store\n\nfunc Open() {}\n",
		"version/" + version + ".go": "package version\n",
	}
	var size int64
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return nil, err
		}
		size += int64(len(body))
	}
	return &entity.SourceSnapshot{Repository: repo, Version: version, Dir: dir, Files: len(files), Bytes: size}, nil
}

type fakeScorer struct {
	calls   atomic.Int32
	overall map[string]float64
	err     error
}

func (s *fakeScorer) Score(ctx context.Context, repo entity.RepositoryRef, version string, metrics entity.Metrics) (*entity.ScoreCard, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	overall := 72.0
	if v, ok := s.overall[repo.Name]; ok {
		overall = v
	}
	return &entity.ScoreCard{
		Overall:    overall,
		Categories: map[string]float64{"tests": 60},
		Summary:    fmt.Sprintf("%s has %d files", repo, metrics.TotalFiles),
	}, nil
}

type fakeDiagrams struct {
	err error
}

func (d *fakeDiagrams) PutDiagram(ctx context.Context, key entity.CacheKey, format string, source []byte) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return fmt.Sprintf("https://diagrams.test/%s/%s/%s.%s", key.Owner, key.Name, key.Version, format), nil
}

// memStore keeps the first artifact saved under a key.
type memStore struct {
	mu   sync.Mutex
	rows map[entity.CacheKey]entity.Artifact
}

func (s *memStore) FindByKey(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, false, nil
	}
	return &row, true, nil
}

func (s *memStore) Save(ctx context.Context, artifact *entity.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[artifact.Key()]; ok {
		*artifact = row
		return nil
	}
	artifact.ID = uuid.New()
	artifact.CreatedAt = time.Now()
	s.rows[artifact.Key()] = *artifact
	return nil
}

func (s *memStore) get(key entity.CacheKey) (entity.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	return row, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeJobs struct {
	mu        sync.Mutex
	status    map[uuid.UUID]entity.JobStatus
	progress  map[uuid.UUID][]int
	resultRef map[uuid.UUID]string
	failure   map[uuid.UUID]entity.JobFailure
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		status:    map[uuid.UUID]entity.JobStatus{},
		progress:  map[uuid.UUID][]int{},
		resultRef: map[uuid.UUID]string{},
		failure:   map[uuid.UUID]entity.JobFailure{},
	}
}

func (f *fakeJobs) Claim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = entity.JobStatusProcessing
	return &entity.Job{ID: id, Status: entity.JobStatusProcessing}, nil
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, lease time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[id] = append(f.progress[id], progress)
	return nil
}

func (f *fakeJobs) Complete(ctx context.Context, id uuid.UUID, resultRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = entity.JobStatusCompleted
	f.progress[id] = append(f.progress[id], 100)
	f.resultRef[id] = resultRef
	return nil
}

func (f *fakeJobs) Fail(ctx context.Context, id uuid.UUID, failure entity.JobFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = entity.JobStatusFailed
	f.failure[id] = failure
	return nil
}

type harness struct {
	resolver *fakeResolver
	fetcher  *fakeFetcher
	scorer   *fakeScorer
	diagrams *fakeDiagrams
	store    *memStore
	hot      *infra.MemoryCache
	jobs     *fakeJobs
	deps     *Deps
	scratch  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		resolver: &fakeResolver{versions: map[string]string{"acme/widgets": "v1", "acme/gadgets": "g1"}},
		fetcher:  &fakeFetcher{},
		scorer:   &fakeScorer{overall: map[string]float64{"gadgets": 90}},
		diagrams: &fakeDiagrams{},
		store:    &memStore{rows: map[entity.CacheKey]entity.Artifact{}},
		hot:      infra.NewMemoryCache(cache.DefaultTTL),
		jobs:     newFakeJobs(),
		scratch:  t.TempDir(),
	}
	logger := infra.NewDiscardLogger()
	h.deps = &Deps{
		Resolver:   h.resolver,
		Fetcher:    h.fetcher,
		Scorer:     h.scorer,
		Artifacts:  cache.NewCoordinator(h.hot, h.store, logger),
		Diagrams:   h.diagrams,
		ScratchDir: h.scratch,
		Logger:     logger,
		Now:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return h
}

func (h *harness) runner(t *testing.T, mode string) *Runner {
	t.Helper()
	r, err := NewRunner(mode, h.deps, h.jobs)
	require.NoError(t, err)
	return r
}

func newJob(t *testing.T, req entity.EvaluationRequest) *entity.Job {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return &entity.Job{ID: uuid.New(), Kind: req.Kind(), Payload: datatypes.JSON(payload), Status: entity.JobStatusPending}
}
