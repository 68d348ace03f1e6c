package actions

import (
	"log/slog"

	"tangled.sh/tangled.sh/runner/workflow"
)

const (
	ActionShell    = workflow.ActionShell
	ActionDocker   = workflow.ActionDocker
	ActionNixery   = "nixery"
	ActionCheckout = "checkout"
)

type Options struct {
	ActionsDir string
	CloneBase  string
	Nixery     string
	// nil disables the docker and nixery actions
	Docker *Docker
}

// Default returns a registry with the built-in actions and a resolver for
// executables under opts.ActionsDir.
func Default(opts Options, l *slog.Logger) *Registry {
	r := NewRegistry()

	r.Register(ActionShell, Shell{})
	r.Register(ActionCheckout, Checkout{CloneBase: opts.CloneBase})

	if opts.Docker != nil {
		r.Register(ActionDocker, opts.Docker)
		r.Register(ActionNixery, &Nixery{Docker: opts.Docker, Host: opts.Nixery})
	} else {
		l.Warn("docker unavailable, container actions disabled")
	}

	if opts.ActionsDir != "" {
		r.AddResolver(ExecResolver{Dir: opts.ActionsDir})
	}

	return r
}
