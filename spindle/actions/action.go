package actions

import (
	"context"
	"errors"
	"io"

	"tangled.sh/tangled.sh/runner/workflow"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingParam  = errors.New("missing parameter")
	ErrOOMKilled     = errors.New("oom killed")
)

// Invocation is everything an action gets to see of the step that invokes
// it. Params and Env are already interpolated.
type Invocation struct {
	Ref       workflow.ActionRef
	Params    workflow.Params
	Env       map[string]string
	Workspace string
	Event     workflow.Event
}

// Param returns a parameter, or def when it is unset or empty.
func (inv Invocation) Param(key, def string) string {
	if v := inv.Params[key]; v != "" {
		return v
	}
	return def
}

// Action is a unit of work a step can invoke. Run blocks until the action
// finished or ctx is done; in the latter case any process or container it
// started must be gone by the time Run returns.
//
// A non-zero exit code with a nil error is an ordinary failure. A non-nil
// error means the action could not run to completion.
type Action interface {
	Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error)
}

type ActionFunc func(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error)

func (f ActionFunc) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	return f(ctx, inv, stdout, stderr)
}
