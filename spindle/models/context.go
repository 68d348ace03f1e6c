package models

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"tangled.sh/tangled.sh/runner/workflow"
)

var ErrOutputsExist = errors.New("step outputs already recorded")

// RunContext carries everything a step may read about its run: the event,
// the base environment, resolved secrets and outputs of earlier steps.
//
// Secrets and the environment are fixed at construction. Outputs are
// append-only: each step records its outputs once, under its own id. Each
// job works on its own child context (see ForJob), so jobs running in
// parallel never share outputs.
type RunContext struct {
	Id    RunId
	Event workflow.Event

	// set on job contexts only
	Job       string
	RunsOn    string
	Workspace string

	env     map[string]string
	secrets map[string]string

	mu      sync.RWMutex
	outputs map[string]map[string]string
}

func NewRunContext(id RunId, ev workflow.Event, env, secrets map[string]string) *RunContext {
	return &RunContext{
		Id:      id,
		Event:   ev,
		env:     maps.Clone(env),
		secrets: maps.Clone(secrets),
		outputs: make(map[string]map[string]string),
	}
}

// ForJob returns a context sharing the event, environment and secrets of rc
// with the job's env layered on top and an empty output set.
func (rc *RunContext) ForJob(env map[string]string) *RunContext {
	merged := maps.Clone(rc.env)
	if merged == nil {
		merged = make(map[string]string, len(env))
	}
	maps.Copy(merged, env)

	return &RunContext{
		Id:      rc.Id,
		Event:   rc.Event,
		env:     merged,
		secrets: rc.secrets,
		outputs: make(map[string]map[string]string),
	}
}

func (rc *RunContext) Env(key string) (string, bool) {
	v, ok := rc.env[key]
	return v, ok
}

func (rc *RunContext) Environ() map[string]string {
	return maps.Clone(rc.env)
}

func (rc *RunContext) Secret(key string) (string, bool) {
	v, ok := rc.secrets[key]
	return v, ok
}

// SecretValues returns every non-empty secret value, longest first, for
// masking.
func (rc *RunContext) SecretValues() []string {
	values := make([]string, 0, len(rc.secrets))
	for _, v := range rc.secrets {
		if v != "" {
			values = append(values, v)
		}
	}
	slices.SortFunc(values, func(a, b string) int {
		return len(b) - len(a)
	})
	return values
}

func (rc *RunContext) Input(key string) (string, bool) {
	v, ok := rc.Event.Inputs[key]
	return v, ok
}

// SetOutputs records the outputs of a step. A step id can be written once.
func (rc *RunContext) SetOutputs(stepId string, outputs map[string]string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.outputs[stepId]; exists {
		return fmt.Errorf("%w: %s", ErrOutputsExist, stepId)
	}
	rc.outputs[stepId] = maps.Clone(outputs)
	return nil
}

func (rc *RunContext) Output(stepId, key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	out, ok := rc.outputs[stepId]
	if !ok {
		return "", false
	}
	v, ok := out[key]
	return v, ok
}

// LogValue keeps secrets out of structured logs.
func (rc *RunContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run", rc.Id.String()),
		slog.String("event", rc.Event.Kind),
		slog.String("ref", rc.Event.Ref),
		slog.String("actor", rc.Event.Actor),
		slog.Int("secrets", len(rc.secrets)),
	)
}

func (rc *RunContext) String() string {
	return fmt.Sprintf("RunContext{run=%s event=%s ref=%s secrets=%d}", rc.Id, rc.Event.Kind, rc.Event.Ref, len(rc.secrets))
}
