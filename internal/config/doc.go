// Package config handles configuration loading for coven-warden.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${WARDEN_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	watchdog:
//	  heartbeat_interval: "10s"
//	  poll_interval: "10s"
//	  stale_threshold: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/warden/warden.db"
//
// Agent invocation:
//
//	agent:
//	  command: "claude"
//	  workdir: "/srv/app"
//	  tools: ["Bash", "Edit", "Read"]
//	  preamble: "You are the household assistant."
//
// Managed workers:
//
//	handler:
//	  command: "warden-handler"
//	  args: ["--config", "/etc/warden/warden.yaml"]
//
//	bundler:
//	  command: "npx"
//	  args: ["expo", "start"]
//	  workdir: "/srv/app/mobile"
//	  install_command: ["npm", "install"]
//
// Crash-loop recovery (disabled unless opted in):
//
//	recovery:
//	  enabled: false
//	  strategy: "stash"   # stash or reset
//	  workdir: "/srv/app"
//
// The WARDEN_GIT_RECOVERY and WARDEN_GIT_RECOVERY_STRATEGY environment
// variables override the recovery section after the file is parsed.
//
// Push notifications:
//
//	push:
//	  endpoint: "https://exp.host/--/api/v2/push/send"
//	  tokens: ["ExponentPushToken[...]"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/warden/warden.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
