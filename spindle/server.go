package spindle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/notifier"
	"tangled.sh/tangled.sh/runner/spindle/actions"
	"tangled.sh/tangled.sh/runner/spindle/config"
	"tangled.sh/tangled.sh/runner/spindle/db"
	"tangled.sh/tangled.sh/runner/spindle/engine"
	"tangled.sh/tangled.sh/runner/spindle/executor"
	"tangled.sh/tangled.sh/runner/spindle/queue"
	"tangled.sh/tangled.sh/runner/spindle/secrets"
	"tangled.sh/tangled.sh/runner/spindle/xrpc"
)

type Spindle struct {
	// cancelled when the server shuts down
	base context.Context

	db  *db.DB
	l   *slog.Logger
	n   *notifier.Notifier
	eng *engine.Engine
	jq  *queue.Queue
	rq  *queue.RedisQueue
	sm  secrets.Manager
	cfg *config.Config
}

func Run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Configure(log.Options{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	ctx = log.IntoContext(ctx, log.New("spindle"))

	return Serve(ctx, cfg)
}

// New wires a server from its configuration without starting anything.
func New(ctx context.Context, cfg *config.Config) (*Spindle, error) {
	logger := log.FromContext(ctx)

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	sm, err := NewSecretsManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup secrets manager: %w", err)
	}

	exec := NewExecutor(cfg, NewRegistry(cfg, logger))
	logger.Info("executor configured", "executor", exec)

	eng := engine.New(ctx, exec, d, n, sm, engine.Options{
		LogDir:          cfg.Pipelines.LogDir,
		WorkspaceDir:    cfg.Pipelines.WorkspaceDir,
		WorkflowTimeout: cfg.Pipelines.WorkflowTimeout,
	})

	s := &Spindle{
		base: ctx,

		db:  d,
		l:   logger,
		n:   n,
		eng: eng,
		jq:  queue.NewQueue(cfg.Queue.Size),
		sm:  sm,
		cfg: cfg,
	}

	switch cfg.Queue.Provider {
	case "memory", "":
	case "redis":
		rq := queue.NewRedisQueue(cfg.Queue.RedisAddr, cfg.Queue.RedisPassword, cfg.Queue.RedisKey)
		if err := rq.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Queue.RedisAddr, err)
		}
		s.rq = rq
	default:
		return nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}

	return s, nil
}

// NewSecretsManager picks the secret backend named in the configuration.
func NewSecretsManager(cfg *config.Config, l *slog.Logger) (secrets.Manager, error) {
	switch cfg.Server.Secrets.Provider {
	case "sqlite", "":
		return secrets.NewSQLiteManager(cfg.Server.DBPath)
	case "vault":
		vc := cfg.Server.Secrets.Vault
		return secrets.NewVaultManager(vc.Addr, vc.RoleID, vc.SecretID, l, secrets.WithMountPath(vc.Mount))
	case "static":
		return secrets.NewStaticManager(), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Server.Secrets.Provider)
	}
}

// NewRegistry registers the built-in actions. Container actions are only
// available when a docker daemon can be reached.
func NewRegistry(cfg *config.Config, l *slog.Logger) *actions.Registry {
	dkr, err := actions.NewDockerFromEnv(l)
	if err != nil {
		l.Warn("failed to create docker client", "error", err)
		dkr = nil
	}

	return actions.Default(actions.Options{
		ActionsDir: cfg.Pipelines.ActionsDir,
		CloneBase:  cfg.Pipelines.CloneBase,
		Nixery:     cfg.Pipelines.Nixery,
		Docker:     dkr,
	}, l)
}

func NewExecutor(cfg *config.Config, registry *actions.Registry) *executor.Executor {
	exec := executor.New(registry)
	exec.DefaultTimeout = cfg.Pipelines.StepTimeout
	exec.OutputLimit = cfg.Pipelines.OutputLimit
	return exec
}

// Serve runs the server until ctx is done.
func Serve(ctx context.Context, cfg *config.Config) error {
	logger := log.FromContext(ctx)

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// starts the job queue runners in the background
	s.jq.StartRunner(cfg.Queue.Workers)
	defer s.jq.Stop()

	if s.rq != nil {
		consumeCtx, stopConsumer := context.WithCancel(ctx)
		var consumer sync.WaitGroup
		consumer.Add(1)
		go func() {
			defer consumer.Done()
			logger.Info("starting redis consumer", "key", cfg.Queue.RedisKey)
			s.rq.Consume(consumeCtx, logger, s.enqueueWait)
		}()
		// the consumer must be gone before the job queue is stopped
		defer consumer.Wait()
		defer stopConsumer()
	}

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting spindle server", "address", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *Spindle) Close() {
	if stopper, ok := s.sm.(secrets.Stopper); ok {
		stopper.Stop()
	}
	if closer, ok := s.sm.(interface{ Close() error }); ok {
		closer.Close()
	}
	if s.rq != nil {
		s.rq.Close()
	}
	s.db.Close()
}

func (s *Spindle) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Post("/trigger", s.Trigger)
	mux.Get("/runs", s.ListRuns)
	mux.Get("/runs/{run}", s.GetRun)
	mux.Get("/runs/{run}/events", s.RunEvents)
	mux.HandleFunc("/events", s.Events)
	mux.HandleFunc("/logs/{run}/{job}", s.Logs)

	x := xrpc.Xrpc{
		Logger:  log.SubLogger(s.l, "xrpc"),
		Secrets: s.sm,
		Token:   s.cfg.Server.AdminToken,
	}
	mux.Mount("/xrpc", x.Router())

	return mux
}
