package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/itsmeharsh/sandboxd/internal/classify"
)

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	ReadTimeout   int    `mapstructure:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"`
	IdleTimeout   int    `mapstructure:"idle_timeout"`
	Workers       int    `mapstructure:"workers"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
}

type SandboxConfig struct {
	WorkspaceRoot  string `mapstructure:"workspace_root"`
	DefaultTimeout int    `mapstructure:"default_timeout"` // seconds
	MaxOutputBytes int    `mapstructure:"max_output_bytes"`
}

type JupyterConfig struct {
	// KernelCommand is the shell command launching the persistent kernel
	// process that speaks the line protocol.
	KernelCommand string `mapstructure:"kernel_command"`
	CellTimeout   int    `mapstructure:"cell_timeout"`  // seconds
	TotalTimeout  int    `mapstructure:"total_timeout"` // seconds
}

type StatsConfig struct {
	// Zero disables the respective flush trigger.
	LogEveryRequests int `mapstructure:"log_every_requests"`
	LogEverySeconds  int `mapstructure:"log_every_seconds"`
}

type LimiterConfig struct {
	GlobalRPS     float64 `mapstructure:"global_rps"`
	PerIPRPS      float64 `mapstructure:"per_ip_rps"`
	PerIPBurst    int     `mapstructure:"per_ip_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

type ClassifyConfig struct {
	ImportErrorPattern string `mapstructure:"import_error_pattern"`
}

type DbConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Jupyter  JupyterConfig  `mapstructure:"jupyter"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Db       DbConfig       `mapstructure:"db"`
}

// LoadConfig reads sandboxd.yaml when present and applies SANDBOXD_*
// environment overrides on top of the defaults. A missing config file is
// not an error.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("sandboxd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sandboxd")

	v.SetEnvPrefix("SANDBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("server.workers", 5)
	v.SetDefault("server.queue_capacity", 100)

	v.SetDefault("sandbox.workspace_root", "")
	v.SetDefault("sandbox.default_timeout", 10)
	v.SetDefault("sandbox.max_output_bytes", 4*1024*1024)

	v.SetDefault("jupyter.kernel_command", "python3 -u kernel.py")
	v.SetDefault("jupyter.cell_timeout", 10)
	v.SetDefault("jupyter.total_timeout", 60)

	v.SetDefault("stats.log_every_requests", 200)
	v.SetDefault("stats.log_every_seconds", 0)

	v.SetDefault("limiter.global_rps", 100.0)
	v.SetDefault("limiter.per_ip_rps", 10.0)
	v.SetDefault("limiter.per_ip_burst", 20)
	v.SetDefault("limiter.max_concurrent", 50)

	v.SetDefault("classify.import_error_pattern", classify.DefaultImportErrorPattern)

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "sandboxd")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "sandboxd")
	v.SetDefault("db.sslmode", "disable")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
