package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/spindle"
)

func main() {
	cmd := &cli.Command{
		Name:    "spindle",
		Usage:   "declarative pipeline runner",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("SPINDLE_SERVER_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text, logfmt or json",
				Value:   "text",
				Sources: cli.EnvVars("SPINDLE_SERVER_LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(log.Options{
				Level:  cmd.String("log-level"),
				Format: cmd.String("log-format"),
			})
			logger := log.New("spindle")
			return log.IntoContext(ctx, logger.With("command", cmd.Args().First())), nil
		},
		Commands: []*cli.Command{
			spindle.ServeCommand(),
			spindle.RunCommand(),
			spindle.ValidateCommand(),
			spindle.WatchCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			stop()
			os.Exit(exit.ExitCode())
		}
		log.New("spindle").Error(err.Error())
		stop()
		os.Exit(-1)
	}
}
