package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

const EnvPrefix = "JOBBRIDGE"

// WorkerMarker is the active-worker marker file inside the shared directory.
const WorkerMarker = "worker.lock"

type Config struct {
	SharedDir string `mapstructure:"shared_dir" yaml:"shared_dir"`
	LocalDir  string `mapstructure:"local_dir" yaml:"local_dir"`
	JobsFile  string `mapstructure:"jobs_file" yaml:"jobs_file"`

	Lock     LockConfig     `mapstructure:"lock" yaml:"lock"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Terminal TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type LockConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

type WorkerConfig struct {
	Timeout    time.Duration      `mapstructure:"timeout" yaml:"timeout"`
	StaleAfter time.Duration      `mapstructure:"stale_after" yaml:"stale_after"`
	Recovery   job.RecoveryPolicy `mapstructure:"recovery" yaml:"recovery"`
}

type WatchConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

type BridgeConfig struct {
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ResultPatterns []string      `mapstructure:"result_patterns" yaml:"result_patterns"`
}

type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts" yaml:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

type TerminalConfig struct {
	Mode          string  `mapstructure:"mode" yaml:"mode"`
	Fixture       string  `mapstructure:"fixture" yaml:"fixture,omitempty"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

type IngestConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("shared_dir", "")
	v.SetDefault("local_dir", "")
	v.SetDefault("jobs_file", "jobs.csv")

	v.SetDefault("lock.timeout", "30s")
	v.SetDefault("lock.stale_after", "2m")

	v.SetDefault("worker.timeout", "30m")
	v.SetDefault("worker.stale_after", "30m")
	v.SetDefault("worker.recovery", string(job.RecoverFail))

	v.SetDefault("watch.debounce", "5s")
	v.SetDefault("watch.poll_interval", "1m")
	v.SetDefault("watch.grace_period", "300s")

	v.SetDefault("bridge.debounce", "2s")
	v.SetDefault("bridge.poll_interval", "5s")
	v.SetDefault("bridge.result_patterns", []string{"cashflows.csv", "bond_characteristics.csv"})

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "5s")

	v.SetDefault("terminal.mode", "offline")
	v.SetDefault("terminal.fixture", "")
	v.SetDefault("terminal.rate_per_second", 2)
	v.SetDefault("terminal.burst", 1)

	v.SetDefault("ingest.db_path", "results.db")

	v.SetDefault("server.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
}

// Load reads the config file at path, or jobbridge.yaml from the working
// directory or $HOME/.config/jobbridge when path is empty, then applies
// JOBBRIDGE_* environment overrides. A missing default file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "jobbridge"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Worker.Recovery {
	case job.RecoverFail, job.RecoverRequeue, job.RecoverNone:
	default:
		return fmt.Errorf("worker.recovery must be fail, requeue or none, got %q", c.Worker.Recovery)
	}
	if c.JobsFile == "" || filepath.Base(c.JobsFile) != c.JobsFile {
		return fmt.Errorf("jobs_file must be a plain file name, got %q", c.JobsFile)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	return nil
}

// RequireShared fails when the terminal-side directory is not configured.
func (c Config) RequireShared() error {
	if c.SharedDir == "" {
		return errors.New("shared_dir is required (set it in the config file or JOBBRIDGE_SHARED_DIR)")
	}
	return nil
}

// RequireLocal fails when the producer-side directory is not configured.
func (c Config) RequireLocal() error {
	if c.LocalDir == "" {
		return errors.New("local_dir is required (set it in the config file or JOBBRIDGE_LOCAL_DIR)")
	}
	return nil
}

func (c Config) SharedJobsPath() string { return filepath.Join(c.SharedDir, c.JobsFile) }
func (c Config) LocalJobsPath() string  { return filepath.Join(c.LocalDir, c.JobsFile) }
func (c Config) WorkerMarkerPath() string {
	return filepath.Join(c.SharedDir, WorkerMarker)
}

// IngestDBPath resolves a relative ingest.db_path against the local directory.
func (c Config) IngestDBPath() string {
	if c.Ingest.DBPath == ":memory:" || filepath.IsAbs(c.Ingest.DBPath) {
		return c.Ingest.DBPath
	}
	return filepath.Join(c.LocalDir, c.Ingest.DBPath)
}
