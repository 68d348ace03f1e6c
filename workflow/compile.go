package workflow

import (
	"errors"
	"fmt"
	"strings"
)

type RawWorkflow struct {
	Name     string
	Contents []byte
}

type RawPipeline = []RawWorkflow

type Compiler struct {
	Event       Event
	Diagnostics Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var (
	ErrMissingAction = errors.New("step has neither `uses` nor `run`")
	ErrAmbiguousStep = errors.New("step has both `uses` and `run`")
	ErrNegativeValue = errors.New("negative timeout or retries")
	ErrNoJobs        = errors.New("workflow declares no jobs")
)

type WarningKind string

var (
	JobSkipped           WarningKind = "job skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
	UnpinnedAction       WarningKind = "unpinned action"
)

// ConfigError is a definition problem found before any step of a job runs.
// It aborts that job only and is never retried.
type ConfigError struct {
	Job string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in job %q: %v", e.Job, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Plan is a job that is ready to hand to the orchestrator: steps in
// execution order with their conditions parsed.
type Plan struct {
	Job        Job
	Matched    bool
	Steps      []Step
	Conditions map[string]*Condition
	Err        error
}

func (compiler *Compiler) Parse(p RawPipeline) []Definition {
	var defs []Definition

	for _, w := range p {
		def, err := FromFile(w.Name, w.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		defs = append(defs, def)
	}

	return defs
}

// Compile plans every job of every definition against the compiler's event.
// Problems are recorded in Diagnostics as well as on the affected Plan.
func (compiler *Compiler) Compile(defs []Definition) map[string][]Plan {
	plans := make(map[string][]Plan, len(defs))

	for _, def := range defs {
		if len(def.Jobs) == 0 {
			compiler.Diagnostics.AddError(def.File, ErrNoJobs)
			continue
		}

		for _, job := range def.Jobs {
			plans[def.Name] = append(plans[def.Name], compiler.CompileJob(def, job))
		}
	}

	return plans
}

func (compiler *Compiler) CompileJob(def Definition, job Job) Plan {
	path := def.File + "#" + job.Name
	plan := Plan{Job: job}

	if !job.Match(def.On, compiler.Event) {
		compiler.Diagnostics.AddWarning(
			path,
			JobSkipped,
			fmt.Sprintf("did not match trigger %s", compiler.Event.Kind),
		)
		return plan
	}
	plan.Matched = true

	if len(job.Steps) == 0 {
		compiler.Diagnostics.AddWarning(path, InvalidConfiguration, "job has no steps")
	}

	fail := func(err error) Plan {
		plan.Err = &ConfigError{Job: job.Name, Err: err}
		compiler.Diagnostics.AddError(path, err)
		return plan
	}

	for i, s := range job.Steps {
		id := StepID(s, i)
		switch {
		case s.Uses.IsZero() && s.Run == "":
			return fail(fmt.Errorf("step %q: %w", id, ErrMissingAction))
		case !s.Uses.IsZero() && s.Run != "" && s.Uses.Name != ActionDocker:
			return fail(fmt.Errorf("step %q: %w", id, ErrAmbiguousStep))
		case s.Timeout < 0 || s.Retries < 0:
			return fail(fmt.Errorf("step %q: %w", id, ErrNegativeValue))
		}

		if s.Uses.Version == "" && strings.Contains(s.Uses.Name, "/") {
			compiler.Diagnostics.AddWarning(path, UnpinnedAction, fmt.Sprintf("step %q uses %s without a version", id, s.Uses.Name))
		}
	}

	ordered, err := Resolve(job.Steps)
	if err != nil {
		return fail(err)
	}

	conditions := make(map[string]*Condition)
	for _, s := range ordered {
		cond, err := ParseCondition(s.If)
		if err != nil {
			return fail(fmt.Errorf("step %q: %w", s.ID, err))
		}
		if cond != nil {
			conditions[s.ID] = cond
		}
	}

	plan.Steps = ordered
	plan.Conditions = conditions
	return plan
}
