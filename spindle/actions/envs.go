package actions

import (
	"fmt"
	"slices"
	"strings"

	"tangled.sh/tangled.sh/runner/workflow"
)

type EnvVars []string

// ConstructEnvs converts a map of environment variables into a
// []string{"KEY=value", ...} slice, sorted by key.
func ConstructEnvs(envs map[string]string) EnvVars {
	keys := make([]string, 0, len(envs))
	for k := range envs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	dockerEnvs := make(EnvVars, 0, len(keys))
	for _, k := range keys {
		dockerEnvs.AddEnv(k, envs[k])
	}
	return dockerEnvs
}

// Slice returns the EnvVar as a []string slice.
func (ev EnvVars) Slice() []string {
	return ev
}

// AddEnv adds a key=value string to the EnvVar.
func (ev *EnvVars) AddEnv(key, value string) {
	*ev = append(*ev, fmt.Sprintf("%s=%s", key, value))
}

// AddInputs exports every parameter, except the ones in skip, as
// INPUT_<KEY>.
func (ev *EnvVars) AddInputs(params workflow.Params, skip ...string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !slices.Contains(skip, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		ev.AddEnv(InputEnvName(k), params[k])
	}
}

// InputEnvName maps a parameter name to the variable it is exported as:
// `fetch-depth` becomes INPUT_FETCH_DEPTH.
func InputEnvName(key string) string {
	key = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(key)
	return "INPUT_" + strings.ToUpper(key)
}
