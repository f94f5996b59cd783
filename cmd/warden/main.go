// ABOUTME: Entry point for the warden supervisor and its admin command surface.
// ABOUTME: start runs the supervisor; the other subcommands queue admin commands through the store.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/logging"
	"github.com/2389/coven-warden/internal/recovery"
	"github.com/2389/coven-warden/internal/store"
	"github.com/2389/coven-warden/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                              _
 _ __ ___   __ _ _ __ __| | ___ _ __
| '_ \ / _ \| '__/ _' / _' |/ _ \ '_ \
| V V / (_) | | | (_| (_| |  __/ | | |
 \_/\_/ \___/|_|  \__,_\__,_|\___|_| |_|
`

var configPath string

// getConfigPath returns the path to the warden config file.
// Priority: WARDEN_CONFIG env var > XDG_CONFIG_HOME/warden/warden.yaml > ~/.config/warden/warden.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WARDEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "warden.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warden", "warden.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Keeps the handler and bundler workers alive",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(ctx)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(), "path to warden.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Run the supervisor (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStart(ctx)
			},
		},
		queueCommand("restart-handler", "Force-restart the message handler", store.CommandRestartHandler),
		queueCommand("restart-bundler", "Force-restart the UI bundler", store.CommandRestartBundler),
		queueCommand("install-mobile-deps", "Stop the bundler, reinstall its dependencies, restart it", store.CommandInstallDeps),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStart(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := logging.Setup(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Handler:   %s\n", cfg.Handler.Command)
	green.Print("    ▶ ")
	fmt.Printf("Bundler:   %s\n", cfg.Bundler.Command)
	if cfg.Recovery.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Recovery:  %s\n", cfg.Recovery.Strategy)
	}
	fmt.Println()

	logger.Info("starting warden",
		"config", configPath,
		"database", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var recoverer supervisor.Recoverer
	if cfg.Recovery.Enabled {
		recoverer = recovery.NewGit(cfg.Recovery.Workdir, cfg.Recovery.Strategy, logger)
	}

	sup := supervisor.New(supervisor.Config{
		Store:  st,
		Logger: logger,
		Handler: supervisor.ProcSpec{
			Command: cfg.Handler.Command,
			Args:    cfg.Handler.Args,
			Workdir: cfg.Handler.Workdir,
		},
		Bundler: supervisor.ProcSpec{
			Command: cfg.Bundler.Command,
			Args:    cfg.Bundler.Args,
			Workdir: cfg.Bundler.Workdir,
		},
		InstallCommand: cfg.Bundler.InstallCommand,
		PollInterval:   cfg.Watchdog.PollInterval,
		StaleThreshold: cfg.Watchdog.StaleThreshold,
		Recoverer:      recoverer,
	})

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("warden stopped")
	return nil
}

// queueCommand builds a subcommand that records an admin command for the
// running supervisor to pick up on its next poll.
func queueCommand(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			rec := &store.AdminCommand{
				ID:        uuid.New().String(),
				Action:    action,
				Status:    store.CommandStatusPending,
				CreatedAt: time.Now().UTC(),
			}
			if err := st.SaveAdminCommand(cmd.Context(), rec); err != nil {
				return fmt.Errorf("queueing command: %w", err)
			}

			fmt.Printf("queued %s (%s)\n", action, rec.ID)
			return nil
		},
	}
}
