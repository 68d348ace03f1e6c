package models

import (
	"time"
)

// StepResult is the immutable record of one step execution.
type StepResult struct {
	StepId    string            `json:"step_id"`
	Name      string            `json:"name"`
	Action    string            `json:"action,omitempty"`
	Status    StatusKind        `json:"status"`
	ExitCode  int               `json:"exit_code"`
	Output    string            `json:"output,omitempty"`
	Truncated bool              `json:"truncated,omitempty"`
	TimedOut  bool              `json:"timed_out,omitempty"`
	Cancelled bool              `json:"cancelled,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Error     string            `json:"error,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
}

func (r StepResult) Failed() bool {
	return r.Status == StatusKindFailure
}

type JobResult struct {
	Name       string       `json:"name"`
	Status     StatusKind   `json:"status"`
	Steps      []StepResult `json:"steps"`
	FailedStep string       `json:"failed_step,omitempty"`
	// set when the job was rejected before any step ran
	ConfigError string        `json:"config_error,omitempty"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Failure returns the result of the step that failed the job, if any.
func (j JobResult) Failure() (StepResult, bool) {
	for _, s := range j.Steps {
		if s.StepId == j.FailedStep && s.Failed() {
			return s, true
		}
	}
	return StepResult{}, false
}

// StatusSequence lists the job status followed by every step status, which
// is what two runs of the same definition against the same event share.
func (j JobResult) StatusSequence() []StatusKind {
	seq := []StatusKind{j.Status}
	for _, s := range j.Steps {
		seq = append(seq, s.Status)
	}
	return seq
}

type RunResult struct {
	Id         RunId       `json:"-"`
	Workflow   string      `json:"workflow"`
	Status     StatusKind  `json:"status"`
	Jobs       []JobResult `json:"jobs"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// ExitCode is 0 when every job succeeded or was skipped, 1 otherwise.
func (r *RunResult) ExitCode() int {
	if r.Status == StatusKindFailure {
		return 1
	}
	return 0
}

func (r *RunResult) Job(name string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}
