package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/notifier"
	"tangled.sh/tangled.sh/runner/spindle/db"
	"tangled.sh/tangled.sh/runner/spindle/executor"
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/spindle/secrets"
	"tangled.sh/tangled.sh/runner/workflow"
)

type Options struct {
	// per-job JSON logs are skipped when empty
	LogDir string
	// parent of per-job workspaces, os.TempDir() when empty
	WorkspaceDir string
	// bounds a whole run, no bound when zero
	WorkflowTimeout time.Duration
	// extra environment for every run
	Env map[string]string
}

// Engine is the pipeline orchestrator: it decides which jobs of a workflow
// run for an event, runs them in parallel and their steps in order, and
// records every status transition.
type Engine struct {
	l    *slog.Logger
	exec *executor.Executor
	db   *db.DB
	n    *notifier.Notifier
	sm   secrets.Manager
	opts Options

	// serializes status events across job goroutines
	statusMu sync.Mutex

	// observes every status event, mostly for tests and the CLI. Calls are
	// serialized and follow the order events are recorded in.
	OnStatus func(models.StatusEvent)
}

// New wires an engine. d, n and sm may be nil: without a database status
// events are only logged, without a secret manager runs see no secrets.
func New(ctx context.Context, exec *executor.Executor, d *db.DB, n *notifier.Notifier, sm secrets.Manager, opts Options) *Engine {
	l := log.FromContext(ctx).With("component", "engine")

	return &Engine{
		l:    l,
		exec: exec,
		db:   d,
		n:    n,
		sm:   sm,
		opts: opts,
	}
}

// Run executes def for ev under a fresh run id.
func (e *Engine) Run(ctx context.Context, def workflow.Definition, ev workflow.Event) *models.RunResult {
	return e.RunWithId(ctx, models.NewRunId(def.Name), def, ev)
}

// RunWithId executes def for ev. The returned result is complete: every
// job of def appears in it, in declaration order, with a terminal status.
func (e *Engine) RunWithId(ctx context.Context, id models.RunId, def workflow.Definition, ev workflow.Event) *models.RunResult {
	l := e.l.With("run", id.String(), "workflow", def.Name)
	ctx = log.IntoContext(ctx, l)

	result := &models.RunResult{
		Id:        id,
		Workflow:  def.Name,
		Jobs:      make([]models.JobResult, len(def.Jobs)),
		StartedAt: time.Now(),
	}

	if e.db != nil {
		if err := e.db.CreateRun(id, ev, e.n); err != nil {
			l.Error("failed to record run", "error", err)
		}
	}

	compiler := workflow.Compiler{Event: ev}
	plans := make([]workflow.Plan, len(def.Jobs))
	for i, job := range def.Jobs {
		plans[i] = compiler.CompileJob(def, job)
		e.status(ctx, id, def.Name, job.Name, "", models.StatusKindPending, nil)
	}
	for _, w := range compiler.Diagnostics.Warnings {
		l.Info(w.String())
	}

	rc, runErr := e.runContext(ctx, id, def, ev)

	if e.db != nil {
		if err := e.db.MarkRunRunning(id, e.n); err != nil {
			l.Error("failed to mark run running", "error", err)
		}
	}

	if e.opts.WorkflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.WorkflowTimeout)
		defer cancel()
	}

	// jobs never fail the group; each records its own outcome
	var g errgroup.Group
	for i, plan := range plans {
		g.Go(func() error {
			if runErr != nil && plan.Matched {
				result.Jobs[i] = e.rejectJob(ctx, id, def, plan.Job, runErr)
				return nil
			}
			result.Jobs[i] = e.runJob(ctx, id, def, plan, rc)
			return nil
		})
	}
	g.Wait()

	result.Status = models.StatusKindSuccess
	for _, j := range result.Jobs {
		if j.Status == models.StatusKindFailure {
			result.Status = models.StatusKindFailure
		}
	}
	result.FinishedAt = time.Now()

	if e.db != nil {
		if err := e.db.FinishRun(id, result, runErr, e.n); err != nil {
			l.Error("failed to record run result", "error", err)
		}
	}

	l.Info("run finished", "status", result.Status, "duration", result.FinishedAt.Sub(result.StartedAt))
	return result
}

// runContext resolves what every job of the run shares. Secrets are scoped
// to the event's repository, or to the workflow when the event names none.
func (e *Engine) runContext(ctx context.Context, id models.RunId, def workflow.Definition, ev workflow.Event) (*models.RunContext, error) {
	env := make(map[string]string, len(e.opts.Env)+len(def.Env))
	for k, v := range e.opts.Env {
		env[k] = v
	}
	for k, v := range def.Env {
		env[k] = v
	}

	scope := secrets.Scope(def.Name)
	if ev.Repo != "" {
		scope = secrets.Scope(ev.Repo)
	}

	resolved, err := secrets.Resolve(ctx, e.sm, scope)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrSecrets, scope, err)
	}

	return models.NewRunContext(id, ev, env, resolved), nil
}

func (e *Engine) rejectJob(ctx context.Context, id models.RunId, def workflow.Definition, job workflow.Job, err error) models.JobResult {
	e.status(ctx, id, def.Name, job.Name, "", models.StatusKindFailure, &statusDetail{err: err})
	return models.JobResult{
		Name:        job.Name,
		Status:      models.StatusKindFailure,
		ConfigError: err.Error(),
	}
}

// validate checks, before anything runs, that every step can be
// dispatched.
func (e *Engine) validate(plan workflow.Plan) error {
	for _, s := range plan.Steps {
		ref, _ := s.Action(plan.Job.RunsOn)
		if e.exec.Registry == nil {
			return &workflow.ConfigError{Job: plan.Job.Name, Err: fmt.Errorf("step %q: no actions registered", s.ID)}
		}
		if _, err := e.exec.Registry.Lookup(ref); err != nil {
			return &workflow.ConfigError{Job: plan.Job.Name, Err: fmt.Errorf("step %q: %w", s.ID, err)}
		}
	}
	return nil
}

func (e *Engine) runJob(ctx context.Context, id models.RunId, def workflow.Definition, plan workflow.Plan, rc *models.RunContext) models.JobResult {
	job := plan.Job
	jid := models.JobId{RunId: id, Name: job.Name}
	l := log.FromContext(ctx).With("job", job.Name)
	ctx = log.IntoContext(ctx, l)

	result := models.JobResult{Name: job.Name}

	if !plan.Matched {
		l.Info("job skipped, trigger did not match")
		e.status(ctx, id, def.Name, job.Name, "", models.StatusKindSkipped, nil)
		result.Status = models.StatusKindSkipped
		return result
	}

	err := plan.Err
	if err == nil {
		err = e.validate(plan)
	}
	if err != nil {
		l.Error("job rejected", "error", err)
		return e.rejectJob(ctx, id, def, job, err)
	}

	start := time.Now()
	e.status(ctx, id, def.Name, job.Name, "", models.StatusKindRunning, nil)

	jrc := rc.ForJob(job.Env)
	jrc.Job = job.Name
	jrc.RunsOn = job.RunsOn

	workspace, err := os.MkdirTemp(e.opts.WorkspaceDir, "spindle-"+jid.String()+"-")
	if err != nil {
		return e.rejectJob(ctx, id, def, job, fmt.Errorf("creating workspace: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			l.Warn("failed to remove workspace", "workspace", workspace, "error", err)
		}
	}()
	jrc.Workspace = workspace

	var jobLogger *models.JobLogger
	if e.opts.LogDir != "" {
		jobLogger, err = models.NewJobLogger(e.opts.LogDir, jid)
		if err != nil {
			l.Warn("job logs disabled", "error", err)
			jobLogger = nil
		} else {
			defer jobLogger.Close()
		}
	}

	var failure error
	for _, s := range plan.Steps {
		if failure != nil {
			result.Steps = append(result.Steps, e.skipStep(ctx, id, def.Name, job.Name, s, jobLogger))
			continue
		}

		if ctx.Err() != nil {
			result.Cancelled = true
			failure = fmt.Errorf("%w: %w", ErrJobCancelled, ctx.Err())
			result.Steps = append(result.Steps, e.skipStep(ctx, id, def.Name, job.Name, s, jobLogger))
			continue
		}

		run, err := plan.Conditions[s.ID].Eval(jrc.Event, job, jrc)
		if err != nil {
			res := models.StepResult{
				StepId: s.ID,
				Name:   s.DisplayName(),
				Status: models.StatusKindFailure,
				Error:  err.Error(),
			}
			result.Steps = append(result.Steps, res)
			result.FailedStep = s.ID
			failure = fmt.Errorf("%w: %s: %w", ErrStepFailed, s.ID, err)
			e.stepStatus(ctx, id, def.Name, job.Name, res)
			continue
		}
		if !run {
			l.Info("step skipped, condition is false", "step", s.ID, "condition", plan.Conditions[s.ID].String())
			result.Steps = append(result.Steps, e.skipStep(ctx, id, def.Name, job.Name, s, jobLogger))
			continue
		}

		e.status(ctx, id, def.Name, job.Name, s.ID, models.StatusKindRunning, nil)
		res := e.exec.Execute(ctx, s, jrc, jobLogger)
		result.Steps = append(result.Steps, res)
		e.stepStatus(ctx, id, def.Name, job.Name, res)

		if res.Failed() {
			result.FailedStep = s.ID
			result.Cancelled = res.Cancelled
			failure = fmt.Errorf("%w: %s: %s", ErrStepFailed, s.ID, res.Error)
			if res.Cancelled {
				failure = fmt.Errorf("%w: %w", ErrJobCancelled, failure)
			}
		}
	}

	result.Duration = time.Since(start)
	if failure != nil {
		result.Status = models.StatusKindFailure
		l.Warn("job failed", "error", failure)
		e.status(ctx, id, def.Name, job.Name, "", models.StatusKindFailure, &statusDetail{err: failure, cancelled: result.Cancelled})
		return result
	}

	result.Status = models.StatusKindSuccess
	l.Info("job succeeded", "duration", result.Duration)
	e.status(ctx, id, def.Name, job.Name, "", models.StatusKindSuccess, nil)
	return result
}

func (e *Engine) skipStep(ctx context.Context, id models.RunId, wf, job string, s workflow.Step, jobLogger *models.JobLogger) models.StepResult {
	res := models.StepResult{
		StepId: s.ID,
		Name:   s.DisplayName(),
		Status: models.StatusKindSkipped,
	}
	if jobLogger != nil {
		jobLogger.Control(s.ID, res.Name, res.Status)
	}
	e.stepStatus(ctx, id, wf, job, res)
	return res
}

type statusDetail struct {
	err       error
	exitCode  *int
	cancelled bool
}

func (e *Engine) stepStatus(ctx context.Context, id models.RunId, wf, job string, res models.StepResult) {
	var detail *statusDetail
	if res.Failed() {
		code := res.ExitCode
		detail = &statusDetail{err: errors.New(res.Error), exitCode: &code, cancelled: res.Cancelled}
	}
	e.status(ctx, id, wf, job, res.StepId, res.Status, detail)
}

// status records one transition. Status events are best effort: a failure
// to persist one is logged and does not affect the run.
func (e *Engine) status(ctx context.Context, id models.RunId, wf, job, step string, kind models.StatusKind, detail *statusDetail) {
	ev := models.StatusEvent{
		Run:      id.String(),
		Workflow: wf,
		Job:      job,
		Step:     step,
		Status:   kind,
	}
	if detail != nil {
		if detail.err != nil {
			ev.Error = detail.err.Error()
		}
		ev.ExitCode = detail.exitCode
		ev.Cancelled = detail.cancelled
	}

	l := log.FromContext(ctx)
	l.Debug("status", "job", job, "step", step, "status", kind)

	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	ev.CreatedAt = time.Now()
	if e.OnStatus != nil {
		e.OnStatus(ev)
	}

	if e.db == nil {
		e.n.NotifyAll()
		return
	}
	if err := e.db.CreateStatusEvent(ev, e.n); err != nil {
		l.Error("failed to record status event", "job", job, "step", step, "status", kind, "error", err)
	}
}
