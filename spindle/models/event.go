package models

import "time"

// StatusEvent is one transition of a job, or of a step within a job.
type StatusEvent struct {
	Run       string     `json:"run"`
	Workflow  string     `json:"workflow"`
	Job       string     `json:"job"`
	Step      string     `json:"step,omitempty"`
	Status    StatusKind `json:"status"`
	Error     string     `json:"error,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (e StatusEvent) IsStep() bool {
	return e.Step != ""
}
