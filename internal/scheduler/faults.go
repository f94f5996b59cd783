// ABOUTME: Fault queue processor: strict FIFO, one fix attempt in flight globally.
// ABOUTME: Each fault is a fresh, isolated agent invocation with no session resumption.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/dedupe"
	"github.com/2389/coven-warden/internal/store"
)

// FaultProcessor drains reported faults one at a time, asking the agent
// for a fix. Unlike the work queue there is no per-key exclusivity: at
// most one fault is processed at any instant, regardless of source.
type FaultProcessor struct {
	store   store.Store
	backend agent.Backend
	logger  *slog.Logger
	tools   []string

	seen *dedupe.Set

	mu     sync.Mutex
	queue  []*store.Fault
	queued map[string]struct{}

	wake chan struct{}
}

// FaultConfig wires a FaultProcessor.
type FaultConfig struct {
	Store   store.Store
	Backend agent.Backend
	Logger  *slog.Logger
	Tools   []string
}

// NewFaultProcessor creates a fault processor from cfg.
func NewFaultProcessor(cfg FaultConfig) *FaultProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FaultProcessor{
		store:   cfg.Store,
		backend: cfg.Backend,
		logger:  logger.With("component", "faults"),
		tools:   cfg.Tools,
		seen:    dedupe.New(),
		queued:  make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue admits a pending fault to the queue. Guards mirror the work
// queue: seen items and terminal items are dropped, duplicates coalesce.
func (p *FaultProcessor) Enqueue(fault *store.Fault) {
	if p.seen.Check(fault.ID) {
		return
	}
	if fault.Status != store.FaultStatusPending {
		p.seen.Mark(fault.ID)
		return
	}

	p.mu.Lock()
	if _, ok := p.queued[fault.ID]; ok {
		p.mu.Unlock()
		return
	}
	p.queued[fault.ID] = struct{}{}
	p.queue = append(p.queue, fault)
	p.mu.Unlock()

	p.logger.Debug("fault enqueued", "fault_id", fault.ID, "kind", fault.Kind)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drains faults until ctx is cancelled. Processing is sequential in
// this loop, which is what guarantees the single global in-flight fault.
func (p *FaultProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}

		for ctx.Err() == nil {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			fault := p.queue[0]
			p.queue = p.queue[1:]
			delete(p.queued, fault.ID)
			p.seen.Mark(fault.ID)
			p.mu.Unlock()

			p.process(ctx, fault)
		}
	}
}

// process runs one fix attempt. Both outcomes are terminal.
func (p *FaultProcessor) process(ctx context.Context, fault *store.Fault) {
	logger := p.logger.With("fault_id", fault.ID, "kind", fault.Kind)

	fault.Status = store.FaultStatusProcessing
	if err := p.store.UpdateFault(ctx, fault); err != nil {
		logger.Warn("failed to mark fault processing", "error", err)
	}

	resolution, err := p.attemptFix(ctx, fault)
	now := time.Now().UTC()
	if err != nil {
		logger.Error("fix attempt failed", "error", err)
		msg := fmt.Sprintf("fix attempt failed: %v", err)
		fault.Status = store.FaultStatusFailed
		fault.Resolution = &msg
	} else {
		logger.Info("fault resolved", "resolution_chars", len(resolution))
		fault.Status = store.FaultStatusCompleted
		fault.Resolution = &resolution
		fault.ResolvedAt = &now
	}
	if uerr := p.store.UpdateFault(ctx, fault); uerr != nil {
		logger.Error("failed to persist fault outcome", "error", uerr)
	}
}

// attemptFix invokes the agent with a fix-oriented prompt built from the
// fault. No session token: every fix attempt is isolated.
func (p *FaultProcessor) attemptFix(ctx context.Context, fault *store.Fault) (string, error) {
	events, err := p.backend.Invoke(ctx, &agent.Request{
		Prompt: buildFixPrompt(fault),
		Tools:  p.tools,
	})
	if err != nil {
		return "", fmt.Errorf("invoking agent: %w", err)
	}

	var text strings.Builder
	var resultText string
	var turnErr error
	for ev := range events {
		switch ev.Type {
		case agent.EventText:
			text.WriteString(ev.Text)
		case agent.EventResult:
			resultText = ev.Text
		case agent.EventError:
			turnErr = errors.New(ev.Error)
		}
	}
	if turnErr != nil {
		return "", turnErr
	}

	resolution := text.String()
	if resolution == "" {
		resolution = resultText
	}
	if resolution == "" {
		return "", errors.New("agent returned no text")
	}
	return resolution, nil
}

// buildFixPrompt renders the fault into an instruction the agent can act on.
func buildFixPrompt(fault *store.Fault) string {
	var b strings.Builder
	b.WriteString("An error was reported")
	if fault.Source != "" {
		fmt.Fprintf(&b, " by %s", fault.Source)
	}
	if fault.Kind != "" {
		fmt.Fprintf(&b, " (%s)", fault.Kind)
	}
	b.WriteString(". Investigate and fix it.\n\n")
	b.WriteString(fault.Payload)
	return b.String()
}
