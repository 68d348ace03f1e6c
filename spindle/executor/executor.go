package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/avast/retry-go/v4"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/spindle/actions"
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

const (
	DefaultTimeout    = 10 * time.Minute
	DefaultRetryDelay = time.Second
)

// Executor runs single steps. It is safe for concurrent use; everything
// specific to a job lives in the RunContext passed to Execute.
type Executor struct {
	Registry       *actions.Registry
	DefaultTimeout time.Duration
	OutputLimit    int
	RetryDelay     time.Duration
}

func New(registry *actions.Registry) *Executor {
	return &Executor{
		Registry:       registry,
		DefaultTimeout: DefaultTimeout,
		OutputLimit:    DefaultOutputLimit,
		RetryDelay:     DefaultRetryDelay,
	}
}

// attemptError is the outcome of an attempt that did not succeed.
type attemptError struct {
	exitCode  int
	timedOut  bool
	cancelled bool
	err       error
}

func (e *attemptError) Error() string {
	return e.err.Error()
}

func (e *attemptError) Unwrap() error {
	return e.err
}

// Execute runs step with the job context rc. It never returns an error:
// every way a step can go wrong ends up in a failed StepResult. On success
// the step's outputs are recorded in rc.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, rc *models.RunContext, logger *models.JobLogger) models.StepResult {
	start := time.Now()
	l := log.FromContext(ctx).With("component", "executor", "job", rc.Job, "step", step.ID)

	ref, params := step.Action(rc.RunsOn)
	result := models.StepResult{
		StepId: step.ID,
		Name:   step.DisplayName(),
		Action: ref.String(),
	}

	if logger != nil {
		logger.Control(step.ID, result.Name, models.StatusKindRunning)
	}

	fail := func(err error) models.StepResult {
		result.Status = models.StatusKindFailure
		result.Error = err.Error()
		result.Duration = time.Since(start)
		if logger != nil {
			logger.Control(step.ID, result.Name, result.Status)
		}
		l.Warn("step failed", "error", err, "attempts", result.Attempts)
		return result
	}

	action, err := e.lookup(ref)
	if err != nil {
		return fail(err)
	}

	inv, err := e.invocation(ref, params, step, rc)
	if err != nil {
		return fail(err)
	}

	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var last *capture
	attempt := func() error {
		result.Attempts++
		last = newCapture(e.OutputLimit, rc.SecretValues(), logger, step.ID)
		return e.attempt(ctx, action, inv, timeout, last)
	}

	err = retry.Do(
		attempt,
		retry.Attempts(uint(max(step.Retries, 0)+1)),
		retry.Context(ctx),
		retry.Delay(e.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, actions.ErrMissingParam)
		}),
		retry.OnRetry(func(n uint, err error) {
			l.Info("retrying step", "attempt", n+2, "error", err)
		}),
	)

	if last != nil {
		result.Output, result.Truncated = last.Output()
	}

	if err != nil {
		var ae *attemptError
		if errors.As(err, &ae) {
			result.ExitCode = ae.exitCode
			result.TimedOut = ae.timedOut
			result.Cancelled = ae.cancelled
		} else if ctx.Err() != nil {
			// cancelled while waiting for the next attempt
			result.Cancelled = true
			err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return fail(err)
	}

	outputs := last.Outputs()
	if err := rc.SetOutputs(step.ID, outputs); err != nil {
		return fail(err)
	}

	result.Status = models.StatusKindSuccess
	result.Outputs = outputs
	result.Duration = time.Since(start)
	if logger != nil {
		logger.Control(step.ID, result.Name, result.Status)
	}
	l.Info("step succeeded", "attempts", result.Attempts, "duration", result.Duration)

	return result
}

func (e *Executor) lookup(ref workflow.ActionRef) (actions.Action, error) {
	if e.Registry == nil {
		return nil, fmt.Errorf("%w: %s", actions.ErrUnknownAction, ref)
	}
	return e.Registry.Lookup(ref)
}

func (e *Executor) invocation(ref workflow.ActionRef, params workflow.Params, step workflow.Step, rc *models.RunContext) (actions.Invocation, error) {
	params, err := interpolateAll(params, rc)
	if err != nil {
		return actions.Invocation{}, fmt.Errorf("interpolating parameters: %w", err)
	}

	env := rc.Environ()
	if env == nil {
		env = make(map[string]string, len(step.Env))
	}
	maps.Copy(env, step.Env)
	env, err = interpolateAll(env, rc)
	if err != nil {
		return actions.Invocation{}, fmt.Errorf("interpolating environment: %w", err)
	}

	return actions.Invocation{
		Ref:       ref,
		Params:    params,
		Env:       env,
		Workspace: rc.Workspace,
		Event:     rc.Event,
	}, nil
}

func (e *Executor) attempt(ctx context.Context, action actions.Action, inv actions.Invocation, timeout time.Duration, c *capture) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr := c.Stream("stdout"), c.Stream("stderr")
	code, err := runAction(attemptCtx, action, inv, stdout, stderr)
	stdout.Flush()
	stderr.Flush()

	switch {
	case ctx.Err() != nil:
		return &attemptError{exitCode: code, cancelled: true, err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &attemptError{exitCode: code, timedOut: true, err: fmt.Errorf("%w after %s", ErrTimedOut, timeout)}
	case err != nil:
		return &attemptError{exitCode: code, err: err}
	case code != 0:
		return &attemptError{exitCode: code, err: fmt.Errorf("%w: %d", ErrExitCode, code)}
	}

	return nil
}

// runAction shields the executor from panicking actions.
func runAction(ctx context.Context, action actions.Action, inv actions.Invocation, stdout, stderr *lineWriter) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = -1, fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action.Run(ctx, inv, stdout, stderr)
}

// LogValue lets an Executor be logged as its configuration.
func (e *Executor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("default_timeout", e.DefaultTimeout),
		slog.Int("output_limit", e.OutputLimit),
	)
}
