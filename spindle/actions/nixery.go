package actions

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"

	"tangled.sh/tangled.sh/runner/workflow"
)

// always present in nixery images
var basePackages = []string{"bash", "git", "coreutils", "nix"}

// Nixery is the docker action with an image assembled on a nixery host
// from the `packages` parameter. Packages from other registries
// (`registry#package` in the `flakes` parameter) are installed with nix
// before `run`.
type Nixery struct {
	Docker *Docker
	Host   string
}

func (n *Nixery) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	params := maps.Clone(inv.Params)
	if params == nil {
		params = workflow.Params{}
	}

	params["image"] = workflowImage(splitList(params["packages"]), n.Host)

	script := params["run"]
	if script == "" {
		return -1, fmt.Errorf("%w: run", ErrMissingParam)
	}

	setup := []string{nixConf}
	if install := dependencyCommand(splitList(params["flakes"])); install != "" {
		setup = append(setup, install)
	}
	params["run"] = strings.Join(append(setup, script), "\n")

	delete(params, "packages")
	delete(params, "flakes")

	inv.Params = params
	return n.Docker.Run(ctx, inv, stdout, stderr)
}

func workflowImage(packages []string, nixery string) string {
	var deps []string
	for _, p := range append(slices.Clone(packages), basePackages...) {
		if !slices.Contains(deps, p) {
			deps = append(deps, p)
		}
	}

	return path.Join(nixery, path.Join(deps...))
}

const nixConf = `mkdir -p /etc/nix
echo 'extra-experimental-features = nix-command flakes' >> /etc/nix/nix.conf
echo 'build-users-group = ' >> /etc/nix/nix.conf`

// dependencyCommand installs packages from custom registries, given as
// registry#package, with a single `nix profile install`.
func dependencyCommand(flakes []string) string {
	if len(flakes) == 0 {
		return ""
	}

	quoted := make([]string, len(flakes))
	for i, f := range flakes {
		quoted[i] = fmt.Sprintf("'%s'", f)
	}

	return "NIX_NO_COLOR=1 NIX_SHOW_DOWNLOAD_PROGRESS=0 nix --extra-experimental-features nix-command --extra-experimental-features flakes profile install " + strings.Join(quoted, " ")
}

// splitList accepts whitespace or comma separated lists.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
