package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func trigger(t *testing.T, doc string) Trigger {
	t.Helper()
	var tr Trigger
	require.NoError(t, yaml.Unmarshal([]byte(doc), &tr))
	return tr
}

func TestTriggerForms(t *testing.T) {
	assert.Equal(t, []string{"push"}, trigger(t, "push").Kinds())
	assert.Equal(t, []string{"pull_request", "push"}, trigger(t, "[push, pull_request]").Kinds())

	tr := trigger(t, "push:\n  branches: main\n  tags: ['v*']\nmanual:\n")
	assert.Equal(t, []string{"manual", "push"}, tr.Kinds())
	assert.Equal(t, StringList{"main"}, tr.Events["push"].Branches)
	assert.True(t, tr.Events["manual"].IsEmpty())
}

func TestTriggerMatch(t *testing.T) {
	tests := []struct {
		name  string
		on    string
		event Event
		want  bool
	}{
		{
			name:  "push to main matches bare push trigger",
			on:    "push",
			event: Event{Kind: "push", Ref: "refs/heads/main"},
			want:  true,
		},
		{
			name:  "pull request does not match push trigger",
			on:    "push",
			event: Event{Kind: "pull_request", Ref: "refs/heads/main"},
			want:  false,
		},
		{
			name:  "branch filter matches",
			on:    "push:\n  branches: [main, develop]",
			event: Event{Kind: "push", Ref: "refs/heads/develop"},
			want:  true,
		},
		{
			name:  "branch filter rejects",
			on:    "push:\n  branches: [main]",
			event: Event{Kind: "push", Ref: "refs/heads/master"},
			want:  false,
		},
		{
			name:  "branch glob",
			on:    "push:\n  branches: ['release/*']",
			event: Event{Kind: "push", Ref: "refs/heads/release/1.2"},
			want:  true,
		},
		{
			name:  "single star stays within a segment",
			on:    "push:\n  branches: ['feature/*']",
			event: Event{Kind: "push", Ref: "refs/heads/feature/a/b"},
			want:  false,
		},
		{
			name:  "double star matches nested branches",
			on:    "push:\n  branches: ['feature/**']",
			event: Event{Kind: "push", Ref: "refs/heads/feature/a/b"},
			want:  true,
		},
		{
			name:  "double star in the middle",
			on:    "push:\n  branches: ['team/**/hotfix']",
			event: Event{Kind: "push", Ref: "refs/heads/team/x/y/hotfix"},
			want:  true,
		},
		{
			name:  "alternatives",
			on:    "push:\n  branches: ['{main,develop}']",
			event: Event{Kind: "push", Ref: "refs/heads/develop"},
			want:  true,
		},
		{
			name:  "double star tag",
			on:    "push:\n  tags: ['v1/**']",
			event: Event{Kind: "push", Ref: "refs/tags/v1/2/beta"},
			want:  true,
		},
		{
			name:  "tag filter matches tag",
			on:    "push:\n  tags: ['v*']",
			event: Event{Kind: "push", Ref: "refs/tags/v1.0.0"},
			want:  true,
		},
		{
			name:  "tag filter rejects branch push",
			on:    "push:\n  tags: ['v*']",
			event: Event{Kind: "push", Ref: "refs/heads/main"},
			want:  false,
		},
		{
			name:  "branch filter rejects tag push",
			on:    "push:\n  branches: [main]",
			event: Event{Kind: "push", Ref: "refs/tags/v1.0.0"},
			want:  false,
		},
		{
			name:  "bare ref is a branch",
			on:    "pull_request:\n  branches: [main]",
			event: Event{Kind: "pull_request", Ref: "main"},
			want:  true,
		},
		{
			name:  "manual bypasses filters",
			on:    "manual:\npush:\n  branches: [main]",
			event: Event{Kind: "manual"},
			want:  true,
		},
		{
			name:  "manual still needs to be declared",
			on:    "push",
			event: Event{Kind: "manual"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trigger(t, tt.on).Match(tt.event))
		})
	}
}

func TestAbsentTriggerMatchesAll(t *testing.T) {
	var tr Trigger
	assert.True(t, tr.Match(Event{Kind: "pull_request", Ref: "refs/heads/x"}))
	assert.True(t, tr.Match(Event{Kind: "anything"}))
}

func TestJobConstraints(t *testing.T) {
	on := Trigger{Events: map[string]Filter{"push": {}, "pull_request": {}}}

	job := Job{
		Name: "release",
		When: []Constraint{
			{Event: []string{"push"}, Branch: []string{"main"}, Tag: []string{"v*"}},
		},
	}

	assert.True(t, job.Match(on, Event{Kind: "push", Ref: "refs/heads/main"}))
	assert.True(t, job.Match(on, Event{Kind: "push", Ref: "refs/tags/v2.5.3"}))
	assert.False(t, job.Match(on, Event{Kind: "push", Ref: "refs/tags/release-1.0"}))
	assert.False(t, job.Match(on, Event{Kind: "push", Ref: "refs/heads/feature/new-feature"}))
	assert.False(t, job.Match(on, Event{Kind: "pull_request", Ref: "main"}))

	// the workflow trigger still applies
	assert.False(t, job.Match(Trigger{Events: map[string]Filter{"manual": {}}}, Event{Kind: "push", Ref: "refs/heads/main"}))
}

func TestEventRefNames(t *testing.T) {
	ev := Event{Kind: "push", Ref: "refs/heads/feature/x"}
	assert.Equal(t, "feature/x", ev.Branch())
	assert.Equal(t, "", ev.Tag())

	ev = Event{Kind: "push", Ref: "refs/tags/v1"}
	assert.Equal(t, "", ev.Branch())
	assert.Equal(t, "v1", ev.Tag())

	assert.Error(t, Event{}.Validate())
	assert.Error(t, Event{Kind: "push"}.Validate())
	assert.NoError(t, Event{Kind: "manual"}.Validate())
}
