package workflow

import (
	"errors"
	"fmt"

	"github.com/heimdalr/dag"
)

var (
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrUnknownDependency = errors.New("unknown dependency")
)

// CycleError reports explicit `needs` edges that close a loop. It is a
// definition-time error: nothing in the affected job is executed.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("dependency cycle: step %q needs itself", e.To)
	}
	return fmt.Sprintf("dependency cycle: step %q needs %q, which already depends on it", e.To, e.From)
}

// StepID returns the identifier of the step at position idx: its declared
// id, or step-N (1-based) when none was given.
func StepID(s Step, idx int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("step-%d", idx+1)
}

// Resolve orders steps so that every step comes after everything it needs.
// Declaration order only breaks ties: among the steps whose dependencies
// are satisfied, the earliest declared one goes next. Returned steps carry
// their resolved ID.
func Resolve(steps []Step) ([]Step, error) {
	ids := make([]string, len(steps))
	index := make(map[string]int, len(steps))

	g := dag.NewDAG()
	for i, s := range steps {
		id := StepID(s, i)
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, id)
		}
		index[id] = i
		ids[i] = id

		if err := g.AddVertexByID(id, id); err != nil {
			return nil, fmt.Errorf("adding step %q: %w", id, err)
		}
	}

	for i, s := range steps {
		for _, dep := range s.Needs {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q needs %q", ErrUnknownDependency, ids[i], dep)
			}

			err := g.AddEdge(dep, ids[i])
			if err == nil {
				continue
			}

			var (
				dup  dag.EdgeDuplicateError
				loop dag.EdgeLoopError
				self dag.SrcDstEqualError
			)
			switch {
			case errors.As(err, &dup):
				continue
			case errors.As(err, &loop), errors.As(err, &self):
				return nil, &CycleError{From: dep, To: ids[i]}
			default:
				return nil, fmt.Errorf("adding dependency %q -> %q: %w", dep, ids[i], err)
			}
		}
	}

	indegree := make([]int, len(steps))
	for i, id := range ids {
		parents, err := g.GetParents(id)
		if err != nil {
			return nil, err
		}
		indegree[i] = len(parents)
	}

	ordered := make([]Step, 0, len(steps))
	done := make([]bool, len(steps))
	for len(ordered) < len(steps) {
		next := -1
		for i := range steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			// unreachable as long as the dag rejected every loop
			for i := range steps {
				if !done[i] {
					return nil, &CycleError{From: ids[i], To: ids[i]}
				}
			}
		}

		done[next] = true
		s := steps[next]
		s.ID = ids[next]
		ordered = append(ordered, s)

		children, err := g.GetChildren(ids[next])
		if err != nil {
			return nil, err
		}
		for child := range children {
			indegree[index[child]]--
		}
	}

	return ordered, nil
}
