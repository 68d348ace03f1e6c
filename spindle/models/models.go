package models

import (
	"fmt"
	"regexp"
)

var (
	re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// RunId identifies one triggered execution of one workflow.
type RunId struct {
	Workflow string
	Rkey     string
}

func (r RunId) String() string {
	return fmt.Sprintf("%s-%s", normalize(r.Workflow), r.Rkey)
}

// JobId identifies a job within a run. Its String form is safe to use in
// file names and docker object names.
type JobId struct {
	RunId
	Name string
}

func (jid JobId) String() string {
	return fmt.Sprintf("%s-%s-%s", normalize(jid.Workflow), jid.Rkey, normalize(jid.Name))
}

func normalize(name string) string {
	normalized := re.ReplaceAllString(name, "-")
	return normalized
}
