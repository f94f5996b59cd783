// ABOUTME: Configuration loading and parsing for coven-warden
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-warden/internal/recovery"
)

// Environment overrides for the recovery section. They exist so an
// operator can flip recovery on a deployed box without editing the file.
const (
	EnvGitRecovery         = "WARDEN_GIT_RECOVERY"
	EnvGitRecoveryStrategy = "WARDEN_GIT_RECOVERY_STRATEGY"
)

// Config represents the complete coven-warden configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Agent    AgentConfig    `yaml:"agent"`
	Handler  WorkerConfig   `yaml:"handler"`
	Bundler  BundlerConfig  `yaml:"bundler"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Push     PushConfig     `yaml:"push"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig describes how the handler invokes the coding agent CLI.
type AgentConfig struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Workdir  string   `yaml:"workdir"`
	Tools    []string `yaml:"tools"`
	Preamble string   `yaml:"preamble"`
}

// WorkerConfig describes how the supervisor launches a child worker.
type WorkerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Workdir string   `yaml:"workdir"`
}

// BundlerConfig is the bundler worker plus its dependency-install command.
type BundlerConfig struct {
	WorkerConfig   `yaml:",inline"`
	InstallCommand []string `yaml:"install_command"`
}

// WatchdogConfig holds liveness timing configuration
type WatchdogConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	PollInterval      time.Duration `yaml:"-"`
	StaleThreshold    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	PollIntervalRaw      string `yaml:"poll_interval"`
	StaleThresholdRaw    string `yaml:"stale_threshold"`
}

// RecoveryConfig gates the crash-loop source-tree rollback. Disabled by
// default; the WARDEN_GIT_RECOVERY env vars override the file.
type RecoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Strategy string `yaml:"strategy"` // stash or reset
	Workdir  string `yaml:"workdir"`
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Tokens   []string `yaml:"tokens"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyEnvOverrides()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets the environment flip recovery settings after the
// file is parsed. "1" or "true" enables, "0" or "false" disables.
func (c *Config) applyEnvOverrides() {
	switch os.Getenv(EnvGitRecovery) {
	case "1", "true":
		c.Recovery.Enabled = true
	case "0", "false":
		c.Recovery.Enabled = false
	}
	if v := os.Getenv(EnvGitRecoveryStrategy); v != "" {
		c.Recovery.Strategy = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.Handler.Command == "" {
		return fmt.Errorf("handler.command is required")
	}
	if c.Bundler.Command == "" {
		return fmt.Errorf("bundler.command is required")
	}

	if c.Recovery.Enabled {
		if c.Recovery.Workdir == "" {
			return fmt.Errorf("recovery.workdir is required when recovery is enabled")
		}
		switch c.Recovery.Strategy {
		case "", recovery.StrategyStash, recovery.StrategyReset:
		default:
			return fmt.Errorf("recovery.strategy must be %q or %q, got %q",
				recovery.StrategyStash, recovery.StrategyReset, c.Recovery.Strategy)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Watchdog.HeartbeatIntervalRaw != "" {
		cfg.Watchdog.HeartbeatInterval, err = time.ParseDuration(cfg.Watchdog.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Watchdog.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Watchdog.PollIntervalRaw != "" {
		cfg.Watchdog.PollInterval, err = time.ParseDuration(cfg.Watchdog.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Watchdog.PollIntervalRaw, err)
		}
	}

	if cfg.Watchdog.StaleThresholdRaw != "" {
		cfg.Watchdog.StaleThreshold, err = time.ParseDuration(cfg.Watchdog.StaleThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing stale_threshold %q: %w", cfg.Watchdog.StaleThresholdRaw, err)
		}
	}

	return nil
}
