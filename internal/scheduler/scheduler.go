// ABOUTME: Work queue and drain loop with per-conversation mutual exclusion.
// ABOUTME: Enqueue guards run synchronously; handlers for distinct conversations overlap.

package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/dedupe"
	"github.com/2389/coven-warden/internal/session"
	"github.com/2389/coven-warden/internal/store"
)

// defaultIdleWait bounds how long the drain loop sleeps when work is
// queued but every runnable conversation is already in flight.
const defaultIdleWait = time.Second

// Pusher sends a best-effort push notification. Errors are swallowed by
// the caller.
type Pusher interface {
	Push(ctx context.Context, title, body string, data map[string]string) error
}

// Config wires a Scheduler. Store, Backend and Sessions are required;
// everything else has sane defaults.
type Config struct {
	Store    store.Store
	Backend  agent.Backend
	Sessions *session.Store
	Pusher   Pusher // optional
	Logger   *slog.Logger

	// Tools is the fixed capability allow-list passed on every turn.
	Tools []string
	// Preamble is prepended to the first turn of a conversation (and to
	// every turn until a session token has been captured).
	Preamble string
	// StartedAt marks process start; items created before it are stale
	// and never processed. Zero means time.Now().
	StartedAt time.Time
	// IdleWait overrides the bounded wait used when all queued
	// conversations are busy. Zero means one second.
	IdleWait time.Duration
}

// queuedItem wraps a message while it sits in the work queue.
type queuedItem struct {
	msg        *store.Message
	enqueuedAt time.Time
}

// Scheduler dequeues user messages respecting per-conversation
// exclusivity, invokes the agent backend, and persists results. All
// dedupe and mutual-exclusion state is owned by the instance so multiple
// schedulers (e.g. in tests) never share it.
type Scheduler struct {
	store    store.Store
	backend  agent.Backend
	sessions *session.Store
	pusher   Pusher
	logger   *slog.Logger

	tools     []string
	preamble  string
	startedAt time.Time
	idleWait  time.Duration

	seen *dedupe.Set

	mu       sync.Mutex
	queue    []*queuedItem
	queued   map[string]struct{} // message IDs currently in the queue
	inflight map[string]struct{} // conversation IDs with an active handler

	wake chan struct{} // drain loop wakeup, coalescing
	done chan struct{} // handler completion signal, coalescing
	wg   sync.WaitGroup
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	idleWait := cfg.IdleWait
	if idleWait == 0 {
		idleWait = defaultIdleWait
	}
	return &Scheduler{
		store:     cfg.Store,
		backend:   cfg.Backend,
		sessions:  cfg.Sessions,
		pusher:    cfg.Pusher,
		logger:    logger.With("component", "scheduler"),
		tools:     cfg.Tools,
		preamble:  cfg.Preamble,
		startedAt: startedAt,
		idleWait:  idleWait,
		seen:      dedupe.New(),
		queued:    make(map[string]struct{}),
		inflight:  make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}, 1),
	}
}

// Enqueue applies the admission guards and appends the message to the work
// queue. Every guard runs synchronously before any asynchronous step so
// re-entrant delivery of the same item can never double-process it.
// Guards, in order: already seen; non-user role; created before process
// start; already queued.
func (s *Scheduler) Enqueue(ctx context.Context, msg *store.Message) {
	if s.seen.Check(msg.ID) {
		return
	}
	if msg.Role != store.RoleUser {
		s.seen.Mark(msg.ID)
		return
	}
	if msg.CreatedAt.Before(s.startedAt) {
		s.seen.Mark(msg.ID)
		s.logger.Debug("ignoring stale message from before process start",
			"message_id", msg.ID,
			"created_at", msg.CreatedAt)
		return
	}

	s.mu.Lock()
	if _, ok := s.queued[msg.ID]; ok {
		s.mu.Unlock()
		return
	}
	s.queued[msg.ID] = struct{}{}
	s.queue = append(s.queue, &queuedItem{msg: msg, enqueuedAt: time.Now()})
	s.mu.Unlock()

	s.logger.Debug("message enqueued",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID)

	if msg.Status != store.MessageStatusPending {
		if err := s.store.UpdateMessageStatus(ctx, msg.ID, store.MessageStatusPending); err != nil {
			s.logger.Warn("failed to mark message pending", "message_id", msg.ID, "error", err)
		}
	}

	s.signal(s.wake)
}

// Run is the drain loop. It blocks until ctx is cancelled, then waits for
// in-flight handlers to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

// drain processes the queue until it is empty at a poll instant. Runnable
// selection is strict FIFO by enqueue time across conversations, skipping
// conversations that already have a handler in flight.
func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.queue[i].enqueuedAt.Before(s.queue[j].enqueuedAt)
		})

		idx := -1
		for i, item := range s.queue {
			if _, busy := s.inflight[item.msg.ConversationID]; !busy {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Everything queued belongs to a busy conversation. Wait for a
			// completion (or the bounded fallback) and rescan.
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.done:
			case <-time.After(s.idleWait):
			}
			continue
		}

		item := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		delete(s.queued, item.msg.ID)
		s.inflight[item.msg.ConversationID] = struct{}{}
		// Mark seen before the handler goroutine exists: redelivery from
		// here on is rejected by the seen-set, not the queue check.
		s.seen.Mark(item.msg.ID)
		s.mu.Unlock()

		s.wg.Add(1)
		go func(msg *store.Message) {
			defer s.wg.Done()
			s.process(ctx, msg)

			s.mu.Lock()
			delete(s.inflight, msg.ConversationID)
			s.mu.Unlock()
			s.signal(s.done)
		}(item.msg)
	}
}

// signal performs a coalescing non-blocking send.
func (s *Scheduler) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Seen reports whether an item identity has been marked.
func (s *Scheduler) Seen(id string) bool {
	return s.seen.Check(id)
}
