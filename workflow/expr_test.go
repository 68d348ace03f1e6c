package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupMap map[string]string

func (l lookupMap) Output(step, key string) (string, bool) {
	v, ok := l[step+"."+key]
	return v, ok
}

func (l lookupMap) Input(key string) (string, bool) {
	v, ok := l["inputs."+key]
	return v, ok
}

func TestParseConditionEmpty(t *testing.T) {
	c, err := ParseCondition("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	ok, err := c.Eval(Event{}, Job{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseConditionInvalid(t *testing.T) {
	_, err := ParseCondition("event_kind ==")
	assert.Error(t, err)
}

func TestConditionEval(t *testing.T) {
	ev := Event{Kind: "push", Ref: "refs/heads/release/1.0", Actor: "alice"}
	job := Job{Name: "build", RunsOn: "host"}
	lookup := lookupMap{"meta.tags": "app:1.0", "inputs.deploy": "yes"}

	tests := []struct {
		expr string
		want bool
	}{
		{"event_kind == 'push'", true},
		{"${{ event_kind == 'pull_request' }}", false},
		{"startsWith(branch, 'release/') && event_actor == 'alice'", true},
		{"endsWith(event_ref, '1.0')", true},
		{"contains(output('meta', 'tags'), ':1.0')", true},
		{"input('deploy') == 'yes'", true},
		{"output('missing', 'x') == ''", true},
		{"job == 'build' && runs_on != 'docker'", true},
		{"tag != ''", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr)
			require.NoError(t, err)

			got, err := c.Eval(ev, job, lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionNotBoolean(t *testing.T) {
	c, err := ParseCondition("event_kind")
	require.NoError(t, err)

	_, err = c.Eval(Event{Kind: "push"}, Job{}, nil)
	assert.Error(t, err)
}
