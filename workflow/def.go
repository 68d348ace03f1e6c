package workflow

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// - a repository carries one or more workflow files
//   * .spindle/workflows/build.yml
//   * .spindle/workflows/lint.yml
// - each workflow declares a trigger and a set of jobs; jobs execute in parallel
// - each job consists of steps, which execute serially in resolved order
// - each step invokes one action (identifier@version) with string parameters

type (
	// Definition is the structural representation of a workflow file. It is
	// parsed once per run and never mutated afterwards.
	Definition struct {
		Name string            `yaml:"name"`
		File string            `yaml:"-"`
		On   Trigger           `yaml:"on"`
		Env  map[string]string `yaml:"env"`
		Jobs Jobs              `yaml:"jobs"`
	}

	// Jobs keeps the declaration order of the `jobs` mapping.
	Jobs []Job

	Job struct {
		Name   string            `yaml:"-"`
		RunsOn string            `yaml:"runs-on"`
		When   []Constraint      `yaml:"when"`
		Env    map[string]string `yaml:"env"`
		Steps  []Step            `yaml:"steps"`
	}

	Step struct {
		ID      string            `yaml:"id"`
		Name    string            `yaml:"name"`
		Uses    ActionRef         `yaml:"uses"`
		Run     string            `yaml:"run"`
		With    Params            `yaml:"with"`
		Env     map[string]string `yaml:"env"`
		If      string            `yaml:"if"`
		Needs   StringList        `yaml:"needs"`
		Timeout Duration          `yaml:"timeout"`
		Retries int               `yaml:"retries"`
	}

	// ActionRef names an action as identifier@version. The docker://image
	// form is shorthand for the docker action with a fixed image.
	ActionRef struct {
		Name    string
		Version string
		Image   string
	}

	Params map[string]string

	Duration time.Duration

	StringList []string
)

const (
	ActionShell  = "shell"
	ActionDocker = "docker"

	dockerScheme = "docker://"
)

func FromFile(name string, contents []byte) (Definition, error) {
	var def Definition

	err := yaml.Unmarshal(contents, &def)
	if err != nil {
		return def, err
	}

	def.File = name
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}

	return def, nil
}

// Job returns the job with the given name.
func (d *Definition) Job(name string) (Job, bool) {
	for _, j := range d.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

func (j *Jobs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping of name to job", node.Line)
	}

	jobs := make(Jobs, 0, len(node.Content)/2)
	seen := make(map[string]struct{})
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		if _, dup := seen[key.Value]; dup {
			return fmt.Errorf("line %d: duplicate job %q", key.Line, key.Value)
		}
		seen[key.Value] = struct{}{}

		var job Job
		if err := value.Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", key.Value, err)
		}
		job.Name = key.Value
		jobs = append(jobs, job)
	}

	*j = jobs
	return nil
}

// DisplayName is what logs and summaries call this step.
func (s Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses.Name != "":
		return s.Uses.String()
	case s.Run != "":
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return line
	}
	return s.ID
}

// Action returns the action this step invokes and the parameters passed to
// it. `run:` steps use the shell action, or the docker action when the job
// runs on a docker:// image.
func (s Step) Action(runsOn string) (ActionRef, Params) {
	params := make(Params, len(s.With)+2)
	for k, v := range s.With {
		params[k] = v
	}

	ref := s.Uses
	if ref.Name == "" && s.Run != "" {
		ref = ActionRef{Name: ActionShell}
		if image, ok := strings.CutPrefix(runsOn, dockerScheme); ok {
			ref = ActionRef{Name: ActionDocker, Image: image}
		}
	}
	if s.Run != "" {
		params["run"] = s.Run
	}
	if ref.Image != "" {
		if _, set := params["image"]; !set {
			params["image"] = ref.Image
		}
	}

	return ref, params
}

func ParseActionRef(s string) (ActionRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ActionRef{}, errors.New("empty action reference")
	}

	if image, ok := strings.CutPrefix(s, dockerScheme); ok {
		if image == "" {
			return ActionRef{}, fmt.Errorf("action %q: missing image", s)
		}
		return ActionRef{Name: ActionDocker, Image: image}, nil
	}

	name, version, found := strings.Cut(s, "@")
	if name == "" || (found && version == "") {
		return ActionRef{}, fmt.Errorf("action %q: expected identifier@version", s)
	}

	return ActionRef{Name: name, Version: version}, nil
}

func (a ActionRef) String() string {
	switch {
	case a.Image != "":
		return dockerScheme + a.Image
	case a.Version != "":
		return a.Name + "@" + a.Version
	}
	return a.Name
}

func (a ActionRef) IsZero() bool {
	return a == ActionRef{}
}

func (a *ActionRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: uses must be a string", node.Line)
	}

	ref, err := ParseActionRef(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*a = ref
	return nil
}

// Params accepts any scalar value and keeps its literal text, so that
// `depth: 1` and `push: true` both arrive at the action as strings.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: with must be a mapping", node.Line)
	}

	params := make(Params, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: parameter %q must be a scalar", value.Line, key.Value)
		}
		if value.Tag == "!!null" {
			params[key.Value] = ""
			continue
		}
		params[key.Value] = value.Value
	}

	*p = params
	return nil
}

// Duration accepts Go duration strings ("90s", "5m") or a number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: invalid duration", node.Line)
	}

	if secs, err := strconv.Atoi(node.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {

		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
