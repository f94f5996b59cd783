// ABOUTME: Supervisor event loop: spawns the handler and bundler children and keeps them alive.
// ABOUTME: Restarts on exit with backoff, kills on stale heartbeat, executes admin commands.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/2389/coven-warden/internal/dedupe"
	"github.com/2389/coven-warden/internal/store"
)

// Process names.
const (
	ProcHandler = "handler"
	ProcBundler = "bundler"
)

// Watchdog defaults.
const (
	DefaultPollInterval   = 10 * time.Second
	DefaultStaleThreshold = 30 * time.Second
)

// ProcSpec describes how to launch one child process.
type ProcSpec struct {
	Command string
	Args    []string
	Workdir string
}

// Recoverer rolls back the working tree after a crash loop. A nil
// Recoverer disables recovery entirely.
type Recoverer interface {
	Recover(ctx context.Context)
}

// Config wires a Supervisor.
type Config struct {
	Store   store.Store
	Logger  *slog.Logger
	Handler ProcSpec
	Bundler ProcSpec

	// InstallCommand runs in the bundler workdir during an install cycle.
	InstallCommand []string

	PollInterval   time.Duration
	StaleThreshold time.Duration

	Recoverer Recoverer
}

// child pairs a launch spec with its tracking state and the live process.
type child struct {
	spec ProcSpec
	proc *ManagedProcess

	cmd *exec.Cmd
	// gen increments on every spawn; exit events from older generations
	// are stale and must be ignored.
	gen int
	// suspended marks a deliberate stop (install cycle). Exit events for
	// a suspended child never schedule a restart.
	suspended bool
	// deliberate marks an operator-requested kill. The next exit event
	// restarts the child but stays out of the crash-loop window.
	deliberate bool
	timer      *time.Timer
}

// exitEvent is delivered by the per-spawn wait goroutine.
type exitEvent struct {
	name string
	gen  int
	err  error
}

// Supervisor owns both children and runs a single event loop over exits,
// watchdog ticks, and admin commands. All state mutation happens on that
// loop; the only cross-goroutine traffic is channel sends.
type Supervisor struct {
	store          store.Store
	logger         *slog.Logger
	installCommand []string
	pollInterval   time.Duration
	staleThreshold time.Duration
	recoverer      Recoverer

	handler *child
	bundler *child

	exitCh    chan exitEvent
	restartCh chan string
	cmdWake   chan struct{}

	seenCmds  *dedupe.Set
	startedAt time.Time
}

// New creates a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	return &Supervisor{
		store:          cfg.Store,
		logger:         logger.With("component", "supervisor"),
		installCommand: cfg.InstallCommand,
		pollInterval:   cfg.PollInterval,
		staleThreshold: cfg.StaleThreshold,
		recoverer:      cfg.Recoverer,
		handler:        &child{spec: cfg.Handler, proc: NewManagedProcess(ProcHandler, true)},
		bundler:        &child{spec: cfg.Bundler, proc: NewManagedProcess(ProcBundler, false)},
		exitCh:         make(chan exitEvent, 8),
		restartCh:      make(chan string, 8),
		cmdWake:        make(chan struct{}, 1),
		seenCmds:       dedupe.New(),
	}
}

// Run spawns both children and supervises them until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now()

	s.startChild(ctx, s.handler)
	s.startChild(ctx, s.bundler)

	// The watch only pokes the loop; admission itself runs on the loop
	// via sweepCommands so the seen-set is consulted in one place.
	s.store.WatchAdminCommands(ctx, func(cmds []*store.AdminCommand) {
		select {
		case s.cmdWake <- struct{}{}:
		default:
		}
	})

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("supervisor running",
		"poll_interval", s.pollInterval,
		"stale_threshold", s.staleThreshold,
		"recovery_enabled", s.recoverer != nil)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case ev := <-s.exitCh:
			s.handleExit(ctx, ev)
		case name := <-s.restartCh:
			c := s.byName(name)
			if c != nil && c.proc.State() == StateStopped && !c.suspended {
				s.startChild(ctx, c)
			}
		case <-ticker.C:
			s.healthPoll(ctx)
			s.sweepCommands(ctx)
		case <-s.cmdWake:
			s.sweepCommands(ctx)
		}
	}
}

func (s *Supervisor) byName(name string) *child {
	switch name {
	case ProcHandler:
		return s.handler
	case ProcBundler:
		return s.bundler
	}
	return nil
}

// startChild spawns the child with inherited stdio and arms the wait
// goroutine. A failed spawn is treated like an immediate exit so it still
// gets backoff instead of a hot retry loop.
func (s *Supervisor) startChild(ctx context.Context, c *child) {
	name := c.proc.Name()
	c.proc.MarkStarting()
	c.suspended = false
	c.deliberate = false

	cmd := exec.Command(c.spec.Command, c.spec.Args...)
	cmd.Dir = c.spec.Workdir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to spawn process", "process", name, "error", err)
		delay, _ := c.proc.HandleExit(time.Now())
		s.scheduleRestart(ctx, c, delay)
		return
	}

	c.cmd = cmd
	c.gen++
	gen := c.gen
	c.proc.MarkRunning()
	s.logger.Info("process started", "process", name, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		select {
		case s.exitCh <- exitEvent{name: name, gen: gen, err: err}:
		case <-ctx.Done():
		}
	}()
}

// handleExit reacts to a child exit: record it, maybe run crash-loop
// recovery, and schedule the restart after the current backoff delay.
func (s *Supervisor) handleExit(ctx context.Context, ev exitEvent) {
	c := s.byName(ev.name)
	if c == nil || ev.gen != c.gen {
		return
	}
	if c.suspended {
		c.proc.MarkStopped()
		return
	}
	if c.deliberate {
		c.deliberate = false
		delay := c.proc.HandleDeliberateExit()
		s.logger.Info("process restarting on request",
			"process", ev.name, "restart_in", delay)
		s.scheduleRestart(ctx, c, delay)
		return
	}

	delay, crashLoop := c.proc.HandleExit(time.Now())
	s.logger.Warn("process exited",
		"process", ev.name, "error", ev.err, "restart_in", delay)

	if crashLoop {
		s.logger.Error("crash loop detected", "process", ev.name)
		if s.recoverer != nil {
			s.recoverer.Recover(ctx)
		}
	}
	s.scheduleRestart(ctx, c, delay)
}

func (s *Supervisor) scheduleRestart(ctx context.Context, c *child, delay time.Duration) {
	name := c.proc.Name()
	c.timer = time.AfterFunc(delay, func() {
		select {
		case s.restartCh <- name:
		case <-ctx.Done():
		}
	})
}

// healthPoll checks the host heartbeat and kills the handler when it is
// absent or stale. The kill forces an exit event, so the restart rides
// the normal exit path; this covers hangs, which produce no exit on
// their own.
func (s *Supervisor) healthPoll(ctx context.Context) {
	if s.handler.proc.State() != StateRunning {
		return
	}

	hb, err := s.store.GetHeartbeatByKind(ctx, store.HeartbeatKindHost)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("host heartbeat absent, killing handler")
	case err != nil:
		s.logger.Warn("heartbeat lookup failed", "error", err)
		return
	case time.Since(hb.LastSeenAt) > s.staleThreshold:
		s.logger.Warn("host heartbeat stale, killing handler",
			"last_seen", hb.LastSeenAt, "threshold", s.staleThreshold)
	default:
		return
	}

	s.kill(s.handler)
}

func (s *Supervisor) kill(c *child) {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// sweepCommands lists admin commands and executes the fresh pending
// ones. It runs on the loop on every watch poke and on every poll tick:
// the in-process change feed only sees this process's own writes, so
// commands written by the warden CLI arrive through the tick. Delivery
// is at-least-once either way, hence the grow-only seen-set.
func (s *Supervisor) sweepCommands(ctx context.Context) {
	cmds, err := s.store.ListAdminCommands(ctx)
	if err != nil {
		s.logger.Warn("admin command sweep failed", "error", err)
		return
	}
	for _, cmd := range cmds {
		if cmd.Status != store.CommandStatusPending {
			s.seenCmds.Mark(cmd.ID)
			continue
		}
		// Commands queued before this supervisor started belong to a
		// previous run and must not fire now.
		if cmd.CreatedAt.Before(s.startedAt) {
			s.seenCmds.Mark(cmd.ID)
			continue
		}
		if !s.seenCmds.CheckAndMark(cmd.ID) {
			continue
		}
		s.handleCommand(ctx, cmd)
	}
}

// handleCommand executes one admin command and records its outcome.
func (s *Supervisor) handleCommand(ctx context.Context, cmd *store.AdminCommand) {
	logger := s.logger.With("command_id", cmd.ID, "action", cmd.Action)
	logger.Info("executing admin command")

	var err error
	switch cmd.Action {
	case store.CommandRestartHandler:
		s.deliberateRestart(ctx, s.handler)
	case store.CommandRestartBundler:
		s.deliberateRestart(ctx, s.bundler)
	case store.CommandInstallDeps:
		err = s.installDeps(ctx)
	default:
		err = fmt.Errorf("unknown action %q", cmd.Action)
	}

	status := store.CommandStatusDone
	if err != nil {
		logger.Error("admin command failed", "error", err)
		status = store.CommandStatusFailed
	}
	if uerr := s.store.UpdateAdminCommandStatus(ctx, cmd.ID, status); uerr != nil {
		logger.Warn("failed to record command outcome", "error", uerr)
	}
}

// deliberateRestart resets the backoff (the operator asked for this, so
// prior failure history is moot) and either kills the running child,
// letting the exit path restart it, or starts it right away if it was
// sitting out a backoff delay. The kill is flagged so the resulting
// exit does not count toward crash-loop detection.
func (s *Supervisor) deliberateRestart(ctx context.Context, c *child) {
	c.proc.ResetBackoff()
	if c.proc.State() == StateRunning {
		c.deliberate = true
		s.kill(c)
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	s.startChild(ctx, c)
}

// installDeps runs the dependency-install cycle: stop the bundler, run
// the install synchronously, restart the bundler only if the install
// succeeded. On failure the bundler stays down for operator attention.
func (s *Supervisor) installDeps(ctx context.Context) error {
	if len(s.installCommand) == 0 {
		return errors.New("no install command configured")
	}

	c := s.bundler
	if c.proc.State() == StateRunning {
		c.suspended = true
		s.kill(c)
		s.awaitExit(ctx, c)
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	s.logger.Info("running dependency install",
		"command", strings.Join(s.installCommand, " "),
		"workdir", c.spec.Workdir)

	cmd := exec.CommandContext(ctx, s.installCommand[0], s.installCommand[1:]...)
	cmd.Dir = c.spec.Workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.suspended = false
		return fmt.Errorf("install failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	s.logger.Info("dependency install succeeded")
	s.startChild(ctx, c)
	return nil
}

// awaitExit blocks until c's current process reports its exit, routing
// any other child's exit events through the normal handler meanwhile.
func (s *Supervisor) awaitExit(ctx context.Context, c *child) {
	deadline := time.NewTimer(10 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case ev := <-s.exitCh:
			if ev.name == c.proc.Name() && ev.gen == c.gen {
				c.proc.MarkStopped()
				return
			}
			s.handleExit(ctx, ev)
		case <-deadline.C:
			s.logger.Warn("timed out waiting for process exit", "process", c.proc.Name())
			return
		case <-ctx.Done():
			return
		}
	}
}

// shutdown kills both children. Their wait goroutines exit via ctx.
func (s *Supervisor) shutdown() {
	s.logger.Info("shutting down, stopping children")
	for _, c := range []*child{s.handler, s.bundler} {
		if c.timer != nil {
			c.timer.Stop()
		}
		s.kill(c)
		c.proc.MarkStopped()
	}
}
