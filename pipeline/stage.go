package pipeline

import "context"

type Policy int

const (
	// Fatal stage errors abort the run.
	Fatal Policy = iota
	// Degradable stage errors are absorbed and the run continues.
	Degradable
)

func (p Policy) String() string {
	if p == Degradable {
		return "degradable"
	}
	return "fatal"
}

type Stage interface {
	Name() string
	Policy() Policy
	// Writes lists every key the stage may write.
	Writes() []string
	Execute(ctx context.Context, scope *Scope) error
}

// Degrader is implemented by degradable stages that leave a placeholder
// result when Execute fails.
type Degrader interface {
	Fallback(scope *Scope) error
}

// ShortCircuiter ends the run early, successfully, once it reports true.
// The stage must have written ResultRefKey by then.
type ShortCircuiter interface {
	ShortCircuit(r Reader) bool
}
