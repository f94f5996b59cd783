// ABOUTME: Pure per-process state machine: lifecycle states, restart backoff, exit window.
// ABOUTME: No side effects here; spawn and kill live in the supervisor loop.

package supervisor

import "time"

// Process lifecycle states.
type ProcState int

const (
	StateStopped ProcState = iota
	StateStarting
	StateRunning
)

func (s ProcState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Backoff defaults.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Crash-loop window defaults, applied only to the handler process.
const (
	crashWindow    = 60 * time.Second
	crashThreshold = 3
)

// backoff is a doubling restart delay with a hard cap. It is never reset
// automatically: only recreating the process state (a deliberate restart)
// returns it to the initial delay.
type backoff struct {
	next time.Duration
}

func newBackoff() backoff {
	return backoff{next: initialBackoff}
}

// delay returns the current delay and advances to the next one.
func (b *backoff) delay() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > maxBackoff {
		b.next = maxBackoff
	}
	return d
}

// exitWindow is a sliding window of exit timestamps for crash-loop
// detection. Reaching the threshold clears the window, so each loop is
// reported exactly once and detection starts over.
type exitWindow struct {
	window    time.Duration
	threshold int
	exits     []time.Time
}

func newExitWindow() *exitWindow {
	return &exitWindow{window: crashWindow, threshold: crashThreshold}
}

// record adds an exit at now and reports whether the threshold was hit.
func (w *exitWindow) record(now time.Time) bool {
	cutoff := now.Add(-w.window)
	kept := w.exits[:0]
	for _, t := range w.exits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.exits = append(kept, now)
	if len(w.exits) >= w.threshold {
		w.exits = w.exits[:0]
		return true
	}
	return false
}

// ManagedProcess tracks one child's lifecycle state, backoff, and
// (optionally) its crash-loop exit history. All methods are pure state
// transitions so tests drive them without real processes.
type ManagedProcess struct {
	name    string
	state   ProcState
	backoff backoff
	exits   *exitWindow
}

// NewManagedProcess creates tracking state for a named child.
// trackCrashLoop enables the exit window; only the handler uses it.
func NewManagedProcess(name string, trackCrashLoop bool) *ManagedProcess {
	p := &ManagedProcess{
		name:    name,
		state:   StateStopped,
		backoff: newBackoff(),
	}
	if trackCrashLoop {
		p.exits = newExitWindow()
	}
	return p
}

// Name returns the process's display name.
func (p *ManagedProcess) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *ManagedProcess) State() ProcState { return p.state }

// MarkStarting records that a spawn is in progress.
func (p *ManagedProcess) MarkStarting() { p.state = StateStarting }

// MarkRunning records a successful spawn.
func (p *ManagedProcess) MarkRunning() { p.state = StateRunning }

// MarkStopped records a deliberate stop. Unlike HandleExit it neither
// advances the backoff nor touches the exit window.
func (p *ManagedProcess) MarkStopped() { p.state = StateStopped }

// HandleExit transitions to stopped and returns the delay before the next
// restart attempt, plus whether this exit tripped the crash-loop window.
// The returned delay is the pre-advance backoff value.
func (p *ManagedProcess) HandleExit(now time.Time) (delay time.Duration, crashLoop bool) {
	p.state = StateStopped
	if p.exits != nil {
		crashLoop = p.exits.record(now)
	}
	return p.backoff.delay(), crashLoop
}

// HandleDeliberateExit transitions to stopped and returns the restart
// delay without recording the exit in the crash-loop window: an
// operator-requested kill is not a crash.
func (p *ManagedProcess) HandleDeliberateExit() time.Duration {
	p.state = StateStopped
	return p.backoff.delay()
}

// ResetBackoff returns the restart delay to its initial value. Called
// only for deliberate restarts, where the previous failure history is no
// longer meaningful.
func (p *ManagedProcess) ResetBackoff() {
	p.backoff = newBackoff()
}
