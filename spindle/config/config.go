package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr  string  `env:"LISTEN_ADDR, default=0.0.0.0:6555"`
	DBPath      string  `env:"DB_PATH, default=spindle.db"`
	Hostname    string  `env:"HOSTNAME, default=localhost"`
	WorkflowDir string  `env:"WORKFLOW_DIR, default=.spindle/workflows"`
	Dev         bool    `env:"DEV, default=false"`
	LogLevel    string  `env:"LOG_LEVEL, default=info"`
	LogFormat   string  `env:"LOG_FORMAT, default=text"`
	AdminToken  string  `env:"ADMIN_TOKEN"`
	Secrets     Secrets `env:",prefix=SECRETS_"`
}

type Secrets struct {
	Provider string      `env:"PROVIDER, default=sqlite"`
	Vault    VaultConfig `env:",prefix=VAULT_"`
}

type VaultConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=spindle"`
}

type Pipelines struct {
	Nixery          string        `env:"NIXERY, default=nixery.tangled.sh"`
	WorkflowTimeout time.Duration `env:"WORKFLOW_TIMEOUT, default=5m"`
	StepTimeout     time.Duration `env:"STEP_TIMEOUT, default=10m"`
	OutputLimit     int           `env:"OUTPUT_LIMIT, default=65536"`
	LogDir          string        `env:"LOG_DIR, default=/var/log/spindle"`
	WorkspaceDir    string        `env:"WORKSPACE_DIR"`
	ActionsDir      string        `env:"ACTIONS_DIR, default=/var/lib/spindle/actions"`
	CloneBase       string        `env:"CLONE_BASE, default=https://tangled.sh"`
}

type Queue struct {
	Provider      string `env:"PROVIDER, default=memory"`
	Size          int    `env:"SIZE, default=100"`
	Workers       int    `env:"WORKERS, default=2"`
	RedisAddr     string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisKey      string `env:"REDIS_KEY, default=spindle:runs"`
}

type Config struct {
	Server    Server    `env:",prefix=SPINDLE_SERVER_"`
	Pipelines Pipelines `env:",prefix=SPINDLE_PIPELINES_"`
	Queue     Queue     `env:",prefix=SPINDLE_QUEUE_"`
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from an arbitrary lookuper, e.g. a
// envconfig.MapLookuper in tests.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
