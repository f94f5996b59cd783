// ABOUTME: In-memory change-feed fan-out used by store implementations
// ABOUTME: Wakes collection watchers after any write; delivery is at-least-once

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// feed tracks watchers of one collection. Each watcher owns a coalescing
// wake channel: a write notifies every watcher, and a watcher that is
// already pending a wake is not queued twice. The watcher re-reads the
// full collection on every wake, so redelivery of unchanged data is
// expected and harmless.
type feed struct {
	mu   sync.Mutex
	subs map[string]chan struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[string]chan struct{})}
}

// subscribe registers a watcher and returns its wake channel. The channel
// arrives pre-loaded so the watcher delivers the current result set
// immediately. The subscription is removed and the channel closed when ctx
// is cancelled.
func (f *feed) subscribe(ctx context.Context) <-chan struct{} {
	id := uuid.New().String()
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}()

	return ch
}

// notify wakes every watcher. Non-blocking: a watcher with a wake already
// pending coalesces this one into it.
func (f *feed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
