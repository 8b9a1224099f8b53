package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUndeclaredWrite = errors.New("write to undeclared key")
	ErrKeyWritten      = errors.New("key already written")
)

// Key names a typed slot in a Workspace.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// ResultRefKey holds the reference recorded on the job when a run completes.
var ResultRefKey = NewKey[string]("result_ref")

// Reader is implemented by Workspace and Scope.
type Reader interface {
	lookup(name string) (any, bool)
}

// Workspace accumulates stage outputs for one run. Values are write-once:
// there is no delete, and the first writer of a key owns it.
type Workspace struct {
	mu        sync.RWMutex
	jobID     uuid.UUID
	values    map[string]any
	owners    map[string]string
	onDiscard []func()
	discarded bool
}

func NewWorkspace(jobID uuid.UUID) *Workspace {
	return &Workspace{
		jobID:  jobID,
		values: make(map[string]any),
		owners: make(map[string]string),
	}
}

func (w *Workspace) JobID() uuid.UUID { return w.jobID }

func (w *Workspace) lookup(name string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.values[name]
	return v, ok
}

func (w *Workspace) write(owner, name string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.owners[name]; ok {
		return fmt.Errorf("%w: %q by %s", ErrKeyWritten, name, prev)
	}
	w.values[name] = value
	w.owners[name] = owner
	return nil
}

// Seed stores a run input before any stage executes.
func Seed[T any](w *Workspace, k Key[T], value T) error {
	return w.write("input", k.name, value)
}

// OnDiscard registers fn to run when the workspace is discarded. On an
// already discarded workspace fn runs immediately.
func (w *Workspace) OnDiscard(fn func()) {
	w.mu.Lock()
	if w.discarded {
		w.mu.Unlock()
		fn()
		return
	}
	w.onDiscard = append(w.onDiscard, fn)
	w.mu.Unlock()
}

// Discard runs the registered hooks in reverse order. Later calls are no-ops.
func (w *Workspace) Discard() {
	w.mu.Lock()
	if w.discarded {
		w.mu.Unlock()
		return
	}
	w.discarded = true
	hooks := w.onDiscard
	w.onDiscard = nil
	w.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Scope is the view of the workspace handed to one stage execution.
type Scope struct {
	ws     *Workspace
	stage  string
	writes map[string]struct{}
}

func (w *Workspace) Scope(stage string, writes []string) *Scope {
	allowed := make(map[string]struct{}, len(writes))
	for _, name := range writes {
		allowed[name] = struct{}{}
	}
	return &Scope{ws: w, stage: stage, writes: allowed}
}

func (s *Scope) JobID() uuid.UUID { return s.ws.jobID }

func (s *Scope) Stage() string { return s.stage }

func (s *Scope) OnDiscard(fn func()) { s.ws.OnDiscard(fn) }

func (s *Scope) lookup(name string) (any, bool) { return s.ws.lookup(name) }

func Get[T any](r Reader, k Key[T]) (T, bool) {
	var zero T
	v, ok := r.lookup(k.name)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// MustGet is for keys an earlier stage is guaranteed to have written.
func MustGet[T any](r Reader, k Key[T]) (T, error) {
	v, ok := Get(r, k)
	if !ok {
		return v, fmt.Errorf("missing workspace key %q", k.name)
	}
	return v, nil
}

func Has[T any](r Reader, k Key[T]) bool {
	_, ok := Get(r, k)
	return ok
}

func Set[T any](s *Scope, k Key[T], value T) error {
	if _, ok := s.writes[k.name]; !ok {
		return fmt.Errorf("%w: stage %s cannot write %q", ErrUndeclaredWrite, s.stage, k.name)
	}
	return s.ws.write(s.stage, k.name, value)
}
