// ABOUTME: Entry point for the message handler worker, spawned and supervised by warden.
// ABOUTME: Runs the work queue, fault queue, and heartbeat emitter until signalled.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/heartbeat"
	"github.com/2389/coven-warden/internal/logging"
	"github.com/2389/coven-warden/internal/notify"
	"github.com/2389/coven-warden/internal/scheduler"
	"github.com/2389/coven-warden/internal/session"
	"github.com/2389/coven-warden/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("WARDEN_CONFIG"), "path to warden.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)
	logger.Info("starting warden-handler", "config", configPath, "database", cfg.Database.Path)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	backend := agent.NewCLIBackend(cfg.Agent.Command, cfg.Agent.Args, cfg.Agent.Workdir, logger)
	sessions := session.New(st, logger)

	var pusher scheduler.Pusher
	if p := notify.New(cfg.Push.Endpoint, cfg.Push.Tokens, logger); p.Enabled() {
		pusher = p
	}

	startedAt := time.Now()
	sched := scheduler.New(scheduler.Config{
		Store:     st,
		Backend:   backend,
		Sessions:  sessions,
		Pusher:    pusher,
		Logger:    logger,
		Tools:     cfg.Agent.Tools,
		Preamble:  cfg.Agent.Preamble,
		StartedAt: startedAt,
	})
	faults := scheduler.NewFaultProcessor(scheduler.FaultConfig{
		Store:   st,
		Backend: backend,
		Logger:  logger,
		Tools:   cfg.Agent.Tools,
	})
	emitter := heartbeat.New(st, store.HeartbeatKindHost, cfg.Watchdog.HeartbeatInterval, logger)

	// The initial drain is load-bearing: if the backlog cannot be read
	// the process must die so the supervisor restarts it.
	msgs, err := st.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("initial message drain: %w", err)
	}
	for _, msg := range msgs {
		sched.Enqueue(ctx, msg)
	}
	pending, err := st.ListFaults(ctx)
	if err != nil {
		return fmt.Errorf("initial fault drain: %w", err)
	}
	for _, fault := range pending {
		faults.Enqueue(fault)
	}

	st.WatchMessages(ctx, func(msgs []*store.Message) {
		for _, msg := range msgs {
			sched.Enqueue(ctx, msg)
		}
	})
	st.WatchFaults(ctx, func(fs []*store.Fault) {
		for _, fault := range fs {
			faults.Enqueue(fault)
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return faults.Run(ctx) })
	g.Go(func() error { return emitter.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("warden-handler stopped")
	return nil
}
