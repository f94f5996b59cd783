// ABOUTME: Periodic liveness emitter writing heartbeat records to the store.
// ABOUTME: Reuses the existing record identity per kind so there is one row per process kind.

package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/store"
)

// DefaultInterval is how often a beat is written when no interval is configured.
const DefaultInterval = 10 * time.Second

// Emitter writes a heartbeat record on a fixed interval. The record's
// identity is stable across restarts: the first beat looks up the
// existing record for the kind and reuses its ID.
type Emitter struct {
	store    store.Store
	kind     string
	interval time.Duration
	logger   *slog.Logger

	id string
}

// New creates an emitter for the given process kind. A zero interval
// selects DefaultInterval.
func New(st store.Store, kind string, interval time.Duration, logger *slog.Logger) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		store:    st,
		kind:     kind,
		interval: interval,
		logger:   logger.With("component", "heartbeat", "kind", kind),
	}
}

// Run emits a beat immediately, then on every interval tick, until ctx
// is cancelled. Write failures are logged and the loop keeps going; a
// missed beat is indistinguishable from a hang to the watchdog, so the
// loop must never die quietly.
func (e *Emitter) Run(ctx context.Context) error {
	e.beat(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.beat(ctx)
		}
	}
}

func (e *Emitter) beat(ctx context.Context) {
	if e.id == "" {
		existing, err := e.store.GetHeartbeatByKind(ctx, e.kind)
		switch {
		case err == nil:
			e.id = existing.ID
		case errors.Is(err, store.ErrNotFound):
			e.id = uuid.New().String()
		default:
			e.logger.Warn("heartbeat lookup failed", "error", err)
			return
		}
	}

	hb := &store.Heartbeat{
		ID:         e.id,
		Kind:       e.kind,
		LastSeenAt: time.Now().UTC(),
	}
	if err := e.store.PutHeartbeat(ctx, hb); err != nil {
		e.logger.Warn("heartbeat write failed", "error", err)
	}
}
