package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
)

var errBoom = errors.New("boom")

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeStore keeps the first artifact saved under a key, like the unique index.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[entity.CacheKey]entity.Artifact
	reads    int
	readErr  error
	writeErr error
	log      *callLog
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{rows: map[entity.CacheKey]entity.Artifact{}, log: log}
}

func (s *fakeStore) FindByKey(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.log != nil {
		s.log.add("store.find")
	}
	if s.readErr != nil {
		return nil, false, s.readErr
	}
	row, ok := s.rows[key]
	if !ok {
		return nil, false, nil
	}
	return &row, true, nil
}

func (s *fakeStore) Save(ctx context.Context, artifact *entity.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.add("store.save")
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	if existing, ok := s.rows[artifact.Key()]; ok {
		*artifact = existing
		return nil
	}
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	s.rows[artifact.Key()] = *artifact
	return nil
}

func (s *fakeStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// flakyHot wraps the in-process cache and injects failures.
type flakyHot struct {
	*infra.MemoryCache
	getErr error
	setErr error
	log    *callLog
}

func newFlakyHot(log *callLog) *flakyHot {
	return &flakyHot{MemoryCache: infra.NewMemoryCache(DefaultTTL), log: log}
}

func (h *flakyHot) Get(ctx context.Context, key string) (*entity.Artifact, bool, error) {
	if h.log != nil {
		h.log.add("hot.get")
	}
	if h.getErr != nil {
		return nil, false, h.getErr
	}
	return h.MemoryCache.Get(ctx, key)
}

func (h *flakyHot) Set(ctx context.Context, key string, artifact *entity.Artifact, ttl time.Duration) error {
	if h.log != nil {
		h.log.add("hot.set")
	}
	if h.setErr != nil {
		return h.setErr
	}
	return h.MemoryCache.Set(ctx, key, artifact, ttl)
}
