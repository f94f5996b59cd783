// ABOUTME: Source-tree rollback for crash-looping workers, via git stash or hard reset.
// ABOUTME: Best-effort and fire-and-forget: failures are logged, never propagated.

package recovery

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
)

// Recovery strategies.
const (
	StrategyStash = "stash"
	StrategyReset = "reset"
)

// Git rolls back local modifications to a working tree. It exists to undo
// an agent-introduced change that is crash-looping the handler; it is not
// a general-purpose VCS layer.
type Git struct {
	workdir  string
	strategy string
	logger   *slog.Logger
}

// NewGit creates a recoverer for workdir. Unknown strategies fall back to
// stash, which is the non-destructive option.
func NewGit(workdir, strategy string, logger *slog.Logger) *Git {
	if strategy != StrategyStash && strategy != StrategyReset {
		strategy = StrategyStash
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{
		workdir:  workdir,
		strategy: strategy,
		logger:   logger.With("component", "recovery"),
	}
}

// Recover runs the configured rollback against the working tree. All
// outcomes are terminal here: output is logged and errors are swallowed,
// because a failed rollback must never take the supervisor down with it.
func (g *Git) Recover(ctx context.Context) {
	var args []string
	switch g.strategy {
	case StrategyReset:
		args = []string{"reset", "--hard"}
	default:
		args = []string{"stash", "push", "--include-untracked"}
	}

	g.logger.Warn("running source-tree recovery",
		"strategy", g.strategy, "workdir", g.workdir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		g.logger.Error("recovery command failed",
			"error", err, "output", strings.TrimSpace(string(out)))
		return
	}
	g.logger.Info("recovery command succeeded",
		"output", strings.TrimSpace(string(out)))
}
