package queue

import (
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

// RunRequest asks for one workflow to be run for an event. It carries the
// workflow file as it was when the event arrived.
type RunRequest struct {
	Workflow string         `json:"workflow"`
	Rkey     string         `json:"rkey"`
	File     string         `json:"file"`
	Contents string         `json:"contents"`
	Event    workflow.Event `json:"event"`
}

func (r RunRequest) RunId() models.RunId {
	return models.RunId{Workflow: r.Workflow, Rkey: r.Rkey}
}

func (r RunRequest) Definition() (workflow.Definition, error) {
	return workflow.FromFile(r.File, []byte(r.Contents))
}
