package workflow

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Condition is a step's `if` predicate, e.g.
//
//	if: event_kind == 'push' && startsWith(branch, 'release/')
//
// Variables: event_kind, event_ref, event_actor, event_sha, branch, tag,
// job, runs_on. Functions: contains, startsWith, endsWith, input(key),
// output(step, key).
type Condition struct {
	raw string
}

// Lookup resolves values that live in the run, not in the definition.
type Lookup interface {
	Output(step, key string) (string, bool)
	Input(key string) (string, bool)
}

func ParseCondition(s string) (*Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	// wrapping braces are accepted and ignored
	if inner, ok := strings.CutPrefix(s, "${{"); ok {
		s = strings.TrimSpace(strings.TrimSuffix(inner, "}}"))
	}

	if _, err := govaluate.NewEvaluableExpressionWithFunctions(s, conditionFunctions(nil)); err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", s, err)
	}

	return &Condition{raw: s}, nil
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.raw
}

// Eval evaluates the predicate; a nil condition is always true.
func (c *Condition) Eval(ev Event, job Job, lookup Lookup) (bool, error) {
	if c == nil {
		return true, nil
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(c.raw, conditionFunctions(lookup))
	if err != nil {
		return false, err
	}

	params := map[string]any{
		"event_kind":  ev.Kind,
		"event_ref":   ev.Ref,
		"event_actor": ev.Actor,
		"event_sha":   ev.Sha,
		"branch":      ev.Branch(),
		"tag":         ev.Tag(),
		"job":         job.Name,
		"runs_on":     job.RunsOn,
	}

	result, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", c.raw, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %v, not a boolean", c.raw, result)
	}
	return b, nil
}

func conditionFunctions(lookup Lookup) map[string]govaluate.ExpressionFunction {
	str := func(name string, args []any, n int) ([]string, error) {
		if len(args) != n {
			return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, n, len(args))
		}
		out := make([]string, n)
		for i, a := range args {
			out[i] = fmt.Sprint(a)
		}
		return out, nil
	}

	return map[string]govaluate.ExpressionFunction{
		"contains": func(args ...any) (any, error) {
			s, err := str("contains", args, 2)
			if err != nil {
				return nil, err
			}
			return strings.Contains(s[0], s[1]), nil
		},
		"startsWith": func(args ...any) (any, error) {
			s, err := str("startsWith", args, 2)
			if err != nil {
				return nil, err
			}
			return strings.HasPrefix(s[0], s[1]), nil
		},
		"endsWith": func(args ...any) (any, error) {
			s, err := str("endsWith", args, 2)
			if err != nil {
				return nil, err
			}
			return strings.HasSuffix(s[0], s[1]), nil
		},
		"input": func(args ...any) (any, error) {
			s, err := str("input", args, 1)
			if err != nil {
				return nil, err
			}
			if lookup == nil {
				return "", nil
			}
			v, _ := lookup.Input(s[0])
			return v, nil
		},
		"output": func(args ...any) (any, error) {
			s, err := str("output", args, 2)
			if err != nil {
				return nil, err
			}
			if lookup == nil {
				return "", nil
			}
			v, _ := lookup.Output(s[0], s[1])
			return v, nil
		},
	}
}
