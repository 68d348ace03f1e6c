package executor

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

var (
	ErrMissingSecret      = errors.New("missing secret")
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
)

var placeholderRe = regexp.MustCompile(`\$\{\{\s*([^}]*?)\s*\}\}`)

// Interpolate replaces every ${{ ... }} placeholder in s:
//
//	${{ secrets.KEY }}              resolved secret, an error when missing
//	${{ steps.ID.outputs.KEY }}     output of an earlier step, "" when missing
//	${{ event.kind }}               also ref, actor, sha, repo, branch, tag
//	${{ inputs.KEY }}               manual event input, "" when missing
//	${{ env.KEY }}                  workflow or job environment, "" when missing
func Interpolate(s string, rc *models.RunContext) (string, error) {
	var errs []error

	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		expr := placeholderRe.FindStringSubmatch(m)[1]
		v, err := resolve(expr, rc)
		if err != nil {
			errs = append(errs, err)
			return m
		}
		return v
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

func resolve(expr string, rc *models.RunContext) (string, error) {
	parts := strings.Split(expr, ".")

	switch {
	case len(parts) == 2 && parts[0] == "secrets":
		v, ok := rc.Secret(parts[1])
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingSecret, parts[1])
		}
		return v, nil

	case len(parts) == 4 && parts[0] == "steps" && parts[2] == "outputs":
		v, _ := rc.Output(parts[1], parts[3])
		return v, nil

	case len(parts) == 2 && parts[0] == "event":
		return eventField(rc.Event, parts[1])

	case len(parts) == 2 && parts[0] == "inputs":
		v, _ := rc.Input(parts[1])
		return v, nil

	case len(parts) == 2 && parts[0] == "env":
		v, _ := rc.Env(parts[1])
		return v, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, expr)
}

func eventField(ev workflow.Event, field string) (string, error) {
	switch field {
	case "kind":
		return ev.Kind, nil
	case "ref":
		return ev.Ref, nil
	case "actor":
		return ev.Actor, nil
	case "sha":
		return ev.Sha, nil
	case "repo":
		return ev.Repo, nil
	case "branch":
		return ev.Branch(), nil
	case "tag":
		return ev.Tag(), nil
	}
	return "", fmt.Errorf("%w: event.%s", ErrUnknownPlaceholder, field)
}

// interpolateAll interpolates every value of m into a new map.
func interpolateAll[M ~map[string]string](m M, rc *models.RunContext) (M, error) {
	out := maps.Clone(m)
	if out == nil {
		out = make(M)
	}

	var errs []error
	for k, v := range m {
		iv, err := Interpolate(v, rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		out[k] = iv
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
