package workflow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"
)

const (
	TriggerKindPush        string = "push"
	TriggerKindPullRequest string = "pull_request"
	TriggerKindManual      string = "manual"
)

// Event is the metadata of whatever caused a run.
type Event struct {
	Kind   string            `json:"kind"`
	Ref    string            `json:"ref"`
	Actor  string            `json:"actor"`
	Sha    string            `json:"sha,omitempty"`
	Repo   string            `json:"repo,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Branch is the short branch name of the event's ref, or "" if the ref is
// not a branch. Bare names without a refs/ prefix are taken as branches.
func (e Event) Branch() string {
	refName := plumbing.ReferenceName(e.Ref)
	if refName.IsBranch() {
		return refName.Short()
	}
	if e.Ref != "" && !strings.HasPrefix(e.Ref, "refs/") {
		return e.Ref
	}
	return ""
}

// Tag is the short tag name of the event's ref, or "".
func (e Event) Tag() string {
	refName := plumbing.ReferenceName(e.Ref)
	if refName.IsTag() {
		return refName.Short()
	}
	return ""
}

func (e Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("event: missing kind")
	}
	if e.Kind != TriggerKindManual && e.Ref == "" {
		return fmt.Errorf("event %s: missing ref", e.Kind)
	}
	return nil
}

type (
	// Trigger is the `on` predicate of a workflow. A nil Events map
	// matches every event.
	Trigger struct {
		Events map[string]Filter
	}

	// Filter narrows an event kind down by ref. Patterns are globs where
	// `*` stays within one path segment and `**` spans segments, so
	// `feature/**` matches feature/a/b. An empty filter matches every ref.
	Filter struct {
		Branches StringList `yaml:"branches"`
		Tags     StringList `yaml:"tags"`
	}

	// Constraint is a per-job condition; any one of a job's constraints
	// matching lets the job run.
	Constraint struct {
		Event  StringList `yaml:"event"`
		Branch StringList `yaml:"branch"` // optional, applied to the event's branch
		Tag    StringList `yaml:"tag"`    // optional, applied to the event's tag
	}
)

// Match reports whether ev satisfies the trigger. Absent fields match all.
func (t Trigger) Match(ev Event) bool {
	if len(t.Events) == 0 {
		return true
	}

	f, ok := t.Events[ev.Kind]
	if !ok {
		return false
	}

	// manual triggers bypass ref filters
	if ev.Kind == TriggerKindManual {
		return true
	}

	return f.Match(ev)
}

func (t Trigger) Kinds() []string {
	kinds := make([]string, 0, len(t.Events))
	for k := range t.Events {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func (t *Trigger) UnmarshalYAML(node *yaml.Node) error {
	events := make(map[string]Filter)

	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			events[node.Value] = Filter{}
		}
	case yaml.SequenceNode:
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: event kinds must be strings", n.Line)
			}
			events[n.Value] = Filter{}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			var f Filter
			if value.Tag != "!!null" {
				if err := value.Decode(&f); err != nil {
					return fmt.Errorf("on.%s: %w", key.Value, err)
				}
			}
			events[key.Value] = f
		}
	default:
		return fmt.Errorf("line %d: unsupported trigger", node.Line)
	}

	t.Events = events
	return nil
}

func (f Filter) IsEmpty() bool {
	return len(f.Branches) == 0 && len(f.Tags) == 0
}

func (f Filter) Match(ev Event) bool {
	if f.IsEmpty() {
		return true
	}

	if tag := ev.Tag(); tag != "" {
		return matchAny(f.Tags, tag)
	}
	if branch := ev.Branch(); branch != "" {
		return matchAny(f.Branches, branch)
	}

	return false
}

func (c *Constraint) Match(ev Event) bool {
	// manual triggers always pass this constraint
	if ev.Kind == TriggerKindManual {
		return true
	}

	match := c.MatchEvent(ev.Kind)
	if len(c.Branch) > 0 || len(c.Tag) > 0 {
		match = match && c.MatchRef(ev.Ref)
	}
	return match
}

func (c *Constraint) MatchBranch(branch string) bool {
	return matchAny(c.Branch, branch)
}

func (c *Constraint) MatchTag(tag string) bool {
	return matchAny(c.Tag, tag)
}

func (c *Constraint) MatchRef(ref string) bool {
	ev := Event{Ref: ref}
	if tag := ev.Tag(); tag != "" {
		return c.MatchTag(tag)
	}
	if branch := ev.Branch(); branch != "" {
		return c.MatchBranch(branch)
	}
	return false
}

func (c *Constraint) MatchEvent(event string) bool {
	return slices.Contains(c.Event, event)
}

// Match combines the workflow trigger with the job's own constraints.
func (j *Job) Match(on Trigger, ev Event) bool {
	if !on.Match(ev) {
		return false
	}

	// no constraints, the workflow trigger decides
	if len(j.When) == 0 {
		return true
	}

	for _, c := range j.When {
		if c.Match(ev) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
