// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and env overrides

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

const minimalConfig = `
database:
  path: "./test.db"

agent:
  command: "claude"

handler:
  command: "warden-handler"

bundler:
  command: "npx"
  args: ["expo", "start"]
`

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

agent:
  command: "claude"
  args: ["--model", "sonnet"]
  workdir: "/srv/app"
  tools: ["Bash", "Edit"]
  preamble: "You are the household assistant."

handler:
  command: "warden-handler"
  args: ["--config", "warden.yaml"]
  workdir: "/srv/app"

bundler:
  command: "npx"
  args: ["expo", "start"]
  workdir: "/srv/app/mobile"
  install_command: ["npm", "install"]

watchdog:
  heartbeat_interval: "10s"
  poll_interval: "10s"
  stale_threshold: "30s"

recovery:
  enabled: true
  strategy: "stash"
  workdir: "/srv/app"

push:
  endpoint: "https://exp.host/--/api/v2/push/send"
  tokens:
    - "ExponentPushToken[abc]"
    - "ExponentPushToken[def]"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q, want %q", cfg.Agent.Command, "claude")
	}
	if len(cfg.Agent.Tools) != 2 {
		t.Errorf("Agent.Tools len = %d, want 2", len(cfg.Agent.Tools))
	}
	if cfg.Agent.Preamble != "You are the household assistant." {
		t.Errorf("Agent.Preamble = %q", cfg.Agent.Preamble)
	}

	if cfg.Handler.Command != "warden-handler" {
		t.Errorf("Handler.Command = %q, want %q", cfg.Handler.Command, "warden-handler")
	}
	if cfg.Bundler.Command != "npx" {
		t.Errorf("Bundler.Command = %q, want %q", cfg.Bundler.Command, "npx")
	}
	if len(cfg.Bundler.InstallCommand) != 2 {
		t.Errorf("Bundler.InstallCommand len = %d, want 2", len(cfg.Bundler.InstallCommand))
	}

	if cfg.Watchdog.HeartbeatInterval != 10*time.Second {
		t.Errorf("Watchdog.HeartbeatInterval = %v, want %v", cfg.Watchdog.HeartbeatInterval, 10*time.Second)
	}
	if cfg.Watchdog.PollInterval != 10*time.Second {
		t.Errorf("Watchdog.PollInterval = %v, want %v", cfg.Watchdog.PollInterval, 10*time.Second)
	}
	if cfg.Watchdog.StaleThreshold != 30*time.Second {
		t.Errorf("Watchdog.StaleThreshold = %v, want %v", cfg.Watchdog.StaleThreshold, 30*time.Second)
	}

	if !cfg.Recovery.Enabled {
		t.Error("Recovery.Enabled = false, want true")
	}
	if cfg.Recovery.Strategy != "stash" {
		t.Errorf("Recovery.Strategy = %q, want %q", cfg.Recovery.Strategy, "stash")
	}

	if cfg.Push.Endpoint != "https://exp.host/--/api/v2/push/send" {
		t.Errorf("Push.Endpoint = %q", cfg.Push.Endpoint)
	}
	if len(cfg.Push.Tokens) != 2 {
		t.Errorf("Push.Tokens len = %d, want 2", len(cfg.Push.Tokens))
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/var/lib/warden/warden.db")
	t.Setenv("TEST_PUSH_TOKEN", "ExponentPushToken[env]")

	configPath := writeConfig(t, `
database:
  path: "${TEST_DB_PATH}"

agent:
  command: "claude"

handler:
  command: "warden-handler"

bundler:
  command: "npx"

push:
  endpoint: "https://exp.host/--/api/v2/push/send"
  tokens:
    - "${TEST_PUSH_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/warden/warden.db" {
		t.Errorf("Database.Path = %q, want expanded value", cfg.Database.Path)
	}
	if len(cfg.Push.Tokens) != 1 || cfg.Push.Tokens[0] != "ExponentPushToken[env]" {
		t.Errorf("Push.Tokens = %v, want expanded token", cfg.Push.Tokens)
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, minimalConfig+`
push:
  endpoint: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Push.Endpoint != "" {
		t.Errorf("Push.Endpoint = %q, want empty string for unset env var", cfg.Push.Endpoint)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, minimalConfig+`
watchdog:
  heartbeat_interval: "1m30s"
  poll_interval: "2h"
  stale_threshold: "45s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expectedInterval := 1*time.Minute + 30*time.Second
	if cfg.Watchdog.HeartbeatInterval != expectedInterval {
		t.Errorf("Watchdog.HeartbeatInterval = %v, want %v", cfg.Watchdog.HeartbeatInterval, expectedInterval)
	}
	if cfg.Watchdog.PollInterval != 2*time.Hour {
		t.Errorf("Watchdog.PollInterval = %v, want %v", cfg.Watchdog.PollInterval, 2*time.Hour)
	}
	if cfg.Watchdog.StaleThreshold != 45*time.Second {
		t.Errorf("Watchdog.StaleThreshold = %v, want %v", cfg.Watchdog.StaleThreshold, 45*time.Second)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, minimalConfig+`
watchdog:
  poll_interval: "not-a-duration"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing database path",
			configContent: `
agent:
  command: "claude"
handler:
  command: "warden-handler"
bundler:
  command: "npx"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing agent command",
			configContent: `
database:
  path: "./test.db"
handler:
  command: "warden-handler"
bundler:
  command: "npx"
`,
			wantErrSubstr: "agent.command is required",
		},
		{
			name: "missing handler command",
			configContent: `
database:
  path: "./test.db"
agent:
  command: "claude"
bundler:
  command: "npx"
`,
			wantErrSubstr: "handler.command is required",
		},
		{
			name: "missing bundler command",
			configContent: `
database:
  path: "./test.db"
agent:
  command: "claude"
handler:
  command: "warden-handler"
`,
			wantErrSubstr: "bundler.command is required",
		},
		{
			name: "recovery enabled without workdir",
			configContent: minimalConfig + `
recovery:
  enabled: true
`,
			wantErrSubstr: "recovery.workdir is required",
		},
		{
			name: "bogus recovery strategy",
			configContent: minimalConfig + `
recovery:
  enabled: true
  strategy: "yolo"
  workdir: "/srv/app"
`,
			wantErrSubstr: "recovery.strategy must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestLoad_RecoveryEnvOverrides(t *testing.T) {
	tests := []struct {
		name         string
		enabledVar   string
		strategyVar  string
		fileRecovery string
		wantEnabled  bool
		wantStrategy string
	}{
		{
			name:       "env enables recovery",
			enabledVar: "1",
			fileRecovery: `
recovery:
  enabled: false
  strategy: "reset"
  workdir: "/srv/app"
`,
			wantEnabled:  true,
			wantStrategy: "reset",
		},
		{
			name:       "env disables recovery",
			enabledVar: "false",
			fileRecovery: `
recovery:
  enabled: true
  strategy: "stash"
  workdir: "/srv/app"
`,
			wantEnabled:  false,
			wantStrategy: "stash",
		},
		{
			name:        "env overrides strategy",
			strategyVar: "reset",
			fileRecovery: `
recovery:
  enabled: true
  strategy: "stash"
  workdir: "/srv/app"
`,
			wantEnabled:  true,
			wantStrategy: "reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.enabledVar != "" {
				t.Setenv(EnvGitRecovery, tt.enabledVar)
			} else {
				os.Unsetenv(EnvGitRecovery)
			}
			if tt.strategyVar != "" {
				t.Setenv(EnvGitRecoveryStrategy, tt.strategyVar)
			} else {
				os.Unsetenv(EnvGitRecoveryStrategy)
			}

			configPath := writeConfig(t, minimalConfig+tt.fileRecovery)
			cfg, err := Load(configPath)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if cfg.Recovery.Enabled != tt.wantEnabled {
				t.Errorf("Recovery.Enabled = %v, want %v", cfg.Recovery.Enabled, tt.wantEnabled)
			}
			if cfg.Recovery.Strategy != tt.wantStrategy {
				t.Errorf("Recovery.Strategy = %q, want %q", cfg.Recovery.Strategy, tt.wantStrategy)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
