package pipeline

import (
	"errors"
	"fmt"
)

// Group is a set of stages launched together. Progress reaches Checkpoint
// when every member has finished.
type Group struct {
	Stages     []Stage
	Checkpoint int
}

func Step(checkpoint int, stage Stage) Group {
	return Group{Stages: []Stage{stage}, Checkpoint: checkpoint}
}

func Concurrent(checkpoint int, stages ...Stage) Group {
	return Group{Stages: stages, Checkpoint: checkpoint}
}

type Plan struct {
	groups []Group
}

// NewPlan validates the groups. Checkpoints must strictly increase and end at
// 100, stage names must be unique, and members of a concurrent group must
// declare disjoint keys.
func NewPlan(groups ...Group) (*Plan, error) {
	if len(groups) == 0 {
		return nil, errors.New("plan has no groups")
	}

	names := make(map[string]struct{})
	last := 0
	for i, g := range groups {
		if len(g.Stages) == 0 {
			return nil, fmt.Errorf("group %d is empty", i)
		}
		if g.Checkpoint <= last || g.Checkpoint > 100 {
			return nil, fmt.Errorf("group %d checkpoint %d must be in (%d, 100]", i, g.Checkpoint, last)
		}
		last = g.Checkpoint

		// Members of one group run at the same time, so their write sets
		// must not overlap. Across groups the first writer wins at runtime.
		writers := make(map[string]string)
		for _, st := range g.Stages {
			if _, dup := names[st.Name()]; dup {
				return nil, fmt.Errorf("duplicate stage %q", st.Name())
			}
			names[st.Name()] = struct{}{}

			for _, key := range st.Writes() {
				if owner, taken := writers[key]; taken {
					return nil, fmt.Errorf("stages %q and %q both write %q", owner, st.Name(), key)
				}
				writers[key] = st.Name()
			}
		}
	}
	if last != 100 {
		return nil, fmt.Errorf("final checkpoint is %d, want 100", last)
	}
	return &Plan{groups: groups}, nil
}

// Sequential runs stages one at a time; after stage i of n progress is
// floor((i+1)*100/n).
func Sequential(stages ...Stage) (*Plan, error) {
	n := len(stages)
	if n > 100 {
		return nil, fmt.Errorf("sequential plan supports at most 100 stages, got %d", n)
	}
	groups := make([]Group, n)
	for i, st := range stages {
		groups[i] = Step((i+1)*100/n, st)
	}
	return NewPlan(groups...)
}

func (p *Plan) Groups() []Group { return p.groups }

func (p *Plan) Stages() []Stage {
	var stages []Stage
	for _, g := range p.groups {
		stages = append(stages, g.Stages...)
	}
	return stages
}
