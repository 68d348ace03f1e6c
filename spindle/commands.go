package spindle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/spindle/config"
	"tangled.sh/tangled.sh/runner/spindle/db"
	"tangled.sh/tangled.sh/runner/spindle/engine"
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/spindle/secrets"
	"tangled.sh/tangled.sh/runner/spindle/watch"
	"tangled.sh/tangled.sh/runner/workflow"
)

// exit codes of `run` and `validate`
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the spindle server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), ExitConfigError)
			}
			return Serve(ctx, cfg)
		},
	}
}

func eventFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "event",
			Usage: "event kind (push, pull_request, manual)",
			Value: workflow.TriggerKindManual,
		},
		&cli.StringFlag{
			Name:  "ref",
			Usage: "git ref of the event, e.g. refs/heads/main",
		},
		&cli.StringFlag{
			Name:    "actor",
			Usage:   "who caused the event",
			Sources: cli.EnvVars("USER"),
		},
		&cli.StringFlag{
			Name:  "sha",
			Usage: "commit of the event",
		},
		&cli.StringFlag{
			Name:  "repo",
			Usage: "repository of the event, also the secret scope",
		},
		&cli.StringSliceFlag{
			Name:  "input",
			Usage: "manual trigger input as KEY=VALUE, repeatable",
		},
	}
}

func eventFrom(cmd *cli.Command) (workflow.Event, error) {
	inputs, err := ParseKeyValues(cmd.StringSlice("input"))
	if err != nil {
		return workflow.Event{}, fmt.Errorf("--input: %w", err)
	}

	return workflow.Event{
		Kind:   cmd.String("event"),
		Ref:    cmd.String("ref"),
		Actor:  cmd.String("actor"),
		Sha:    cmd.String("sha"),
		Repo:   cmd.String("repo"),
		Inputs: inputs,
	}, nil
}

func RunCommand() *cli.Command {
	flags := append(eventFlags(),
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "workflow file to run",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "secret",
			Usage: "secret as KEY=VALUE, repeatable",
		},
		&cli.StringSliceFlag{
			Name:  "env",
			Usage: "extra environment as KEY=VALUE, repeatable",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "write per-job JSON logs to this directory",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the run result as JSON instead of a summary",
		},
	)

	return &cli.Command{
		Name:   "run",
		Usage:  "run one workflow file locally",
		Flags:  flags,
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	l := log.FromContext(ctx)
	out := writerOf(cmd)

	cfg, err := config.Load(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), ExitConfigError)
	}

	ev, err := eventFrom(cmd)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	secretValues, err := ParseKeyValues(cmd.StringSlice("secret"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("--secret: %v", err), ExitConfigError)
	}
	env, err := ParseKeyValues(cmd.StringSlice("env"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("--env: %v", err), ExitConfigError)
	}

	path := cmd.String("file")
	contents, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read workflow: %v", err), ExitConfigError)
	}
	def, err := workflow.FromFile(path, contents)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to parse %s: %v", path, err), ExitConfigError)
	}

	sm, err := StaticSecrets(secretScope(def, ev), secretValues)
	if err != nil {
		return cli.Exit(fmt.Sprintf("--secret: %v", err), ExitConfigError)
	}

	exec := NewExecutor(cfg, NewRegistry(cfg, l))
	l.Debug("executor configured", "executor", exec)

	eng := engine.New(ctx, exec, nil, nil, sm, engine.Options{
		LogDir:          cmd.String("log-dir"),
		WorkspaceDir:    cfg.Pipelines.WorkspaceDir,
		WorkflowTimeout: cfg.Pipelines.WorkflowTimeout,
		Env:             env,
	})

	result := eng.Run(ctx, def, ev)

	if cmd.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if err := result.Summary(out); err != nil {
		return err
	}

	if code := result.ExitCode(); code != ExitOK {
		return cli.Exit("", code)
	}
	return nil
}

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check workflow files without running them",
		ArgsUsage: "FILE...",
		Flags:     eventFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files := cmd.Args().Slice()
			if len(files) == 0 {
				return cli.Exit("no workflow files given", ExitConfigError)
			}

			ev, err := eventFrom(cmd)
			if err != nil {
				return cli.Exit(err.Error(), ExitConfigError)
			}

			raw := make(workflow.RawPipeline, 0, len(files))
			for _, f := range files {
				contents, err := os.ReadFile(f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("failed to read workflow: %v", err), ExitConfigError)
				}
				raw = append(raw, workflow.RawWorkflow{Name: f, Contents: contents})
			}

			diags := Validate(raw, ev)
			out := writerOf(cmd)
			for _, e := range diags.Errors {
				fmt.Fprintln(out, e.String())
			}
			for _, w := range diags.Warnings {
				fmt.Fprintln(out, w.String())
			}

			if diags.IsErr() {
				return cli.Exit("", ExitFailed)
			}
			fmt.Fprintf(out, "%d workflow(s) ok\n", len(files))
			return nil
		},
	}
}

func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow the status events of one or more servers",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "server",
				Usage:    "host[:port] of a spindle server, repeatable",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "connect with ws:// instead of wss://",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "only print events of this run",
			},
			&cli.StringFlag{
				Name:  "cursor-db",
				Usage: "sqlite file to resume from across restarts",
			},
			&cli.StringFlag{
				Name:  "cursor-redis",
				Usage: "redis address to keep cursors in instead",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			l := log.FromContext(ctx)
			out := writerOf(cmd)

			var store watch.Store = &watch.MemoryStore{}
			switch {
			case cmd.String("cursor-db") != "":
				s, err := watch.NewSQLiteStore(cmd.String("cursor-db"))
				if err != nil {
					return cli.Exit(err.Error(), ExitConfigError)
				}
				defer s.Close()
				store = s
			case cmd.String("cursor-redis") != "":
				rdb := redis.NewClient(&redis.Options{Addr: cmd.String("cursor-redis")})
				defer rdb.Close()
				store = watch.NewRedisStore(rdb)
			}

			var sources []watch.Source
			for _, host := range cmd.StringSlice("server") {
				sources = append(sources, watch.Source{Host: host, Insecure: cmd.Bool("insecure")})
			}

			w := watch.New(watch.Config{
				Sources:     sources,
				CursorStore: store,
				Logger:      log.SubLogger(l, "watch"),
				Handle:      printEvent(out, cmd.String("run")),
			})
			w.Run(ctx)
			return nil
		},
	}
}

func printEvent(out io.Writer, run string) watch.HandleFunc {
	return func(_ context.Context, source watch.Source, ev db.Event) error {
		if run != "" && ev.Run != run {
			return nil
		}

		var status models.StatusEvent
		if err := json.Unmarshal([]byte(ev.EventJson), &status); err != nil {
			return err
		}

		_, err := fmt.Fprintln(out, FormatStatusEvent(source.Key(), status))
		return err
	}
}

// FormatStatusEvent renders one status event as a single line.
func FormatStatusEvent(source string, ev models.StatusEvent) string {
	target := ev.Job
	if ev.IsStep() {
		target += "/" + ev.Step
	}

	line := fmt.Sprintf("%s %s %s %s %s", ev.CreatedAt.Format("15:04:05"), source, ev.Run, target, ev.Status)
	if ev.Cancelled {
		line += " (cancelled)"
	}
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	return line
}

// Validate parses and plans every workflow against ev.
func Validate(raw workflow.RawPipeline, ev workflow.Event) workflow.Diagnostics {
	compiler := workflow.Compiler{Event: ev}
	compiler.Compile(compiler.Parse(raw))
	return compiler.Diagnostics
}

// ParseKeyValues turns KEY=VALUE pairs into a map. Values may contain '='.
func ParseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// StaticSecrets holds values under scope, for runs outside the server.
func StaticSecrets(scope secrets.Scope, values map[string]string) (*secrets.StaticManager, error) {
	sm := secrets.NewStaticManager()
	for k, v := range values {
		err := sm.AddSecret(context.Background(), secrets.UnlockedSecret{
			Key:       k,
			Value:     v,
			Scope:     scope,
			CreatedBy: "cli",
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return sm, nil
}

// secretScope mirrors how the engine scopes secrets.
func secretScope(def workflow.Definition, ev workflow.Event) secrets.Scope {
	if ev.Repo != "" {
		return secrets.Scope(ev.Repo)
	}
	return secrets.Scope(def.Name)
}

func writerOf(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
