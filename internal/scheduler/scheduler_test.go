// ABOUTME: Tests for work queue admission, idempotence, and concurrency properties.
// ABOUTME: Uses a stub backend with controllable timing; no real subprocesses.

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/session"
	"github.com/2389/coven-warden/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// turnRecord captures one backend invocation for assertions.
type turnRecord struct {
	req      *agent.Request
	started  time.Time
	finished time.Time
}

// stubBackend replays scripted events per call and records timing.
type stubBackend struct {
	mu    sync.Mutex
	turns []*turnRecord

	// tokens issued per call, in order; the last one repeats.
	tokens []string
	// delay holds each call open, simulating a slow agent.
	delay time.Duration
	// reply is the text delta emitted for each call.
	reply string
	// fail makes every call end in an error event.
	fail string
}

func (b *stubBackend) Invoke(ctx context.Context, req *agent.Request) (<-chan *agent.Event, error) {
	b.mu.Lock()
	rec := &turnRecord{req: req, started: time.Now()}
	b.turns = append(b.turns, rec)
	n := len(b.turns) - 1
	var token string
	if len(b.tokens) > 0 {
		if n < len(b.tokens) {
			token = b.tokens[n]
		} else {
			token = b.tokens[len(b.tokens)-1]
		}
	}
	b.mu.Unlock()

	ch := make(chan *agent.Event, 4)
	go func() {
		defer close(ch)
		if b.delay > 0 {
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
			}
		}
		if b.fail != "" {
			ch <- &agent.Event{Type: agent.EventError, Error: b.fail}
		} else {
			reply := b.reply
			if reply == "" {
				reply = "ok"
			}
			ch <- &agent.Event{Type: agent.EventInit, SessionID: token}
			ch <- &agent.Event{Type: agent.EventText, Text: reply}
			ch <- &agent.Event{Type: agent.EventResult, Text: reply, SessionID: token}
		}
		b.mu.Lock()
		rec.finished = time.Now()
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *stubBackend) turnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

func userMessage(conv, content string) *store.Message {
	return &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv,
		Role:           store.RoleUser,
		Content:        content,
		Status:         store.MessageStatusPending,
		CreatedAt:      time.Now(),
	}
}

// startScheduler runs the drain loop and returns a stop function that
// cancels it and waits for it to exit.
func startScheduler(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func newTestScheduler(t *testing.T, backing store.Store, backend agent.Backend) *Scheduler {
	t.Helper()
	return New(Config{
		Store:     backing,
		Backend:   backend,
		Sessions:  session.New(backing, nil),
		StartedAt: time.Now().Add(-time.Minute),
		IdleWait:  10 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func messageStatus(t *testing.T, backing store.Store, id string) string {
	t.Helper()
	msg, err := backing.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg.Status
}

func TestEnqueue_RedeliveryIsIdempotent(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{delay: 100 * time.Millisecond}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	msg := userMessage("conv-1", "hello")
	require.NoError(t, backing.SaveMessage(ctx, msg))

	s.Enqueue(ctx, msg)

	// Redeliver while still queued/processing, several times.
	waitFor(t, func() bool { return backend.turnCount() == 1 })
	for i := 0; i < 5; i++ {
		s.Enqueue(ctx, msg)
	}

	waitFor(t, func() bool {
		return messageStatus(t, backing, msg.ID) == store.MessageStatusCompleted
	})

	// Redeliver after completion too.
	s.Enqueue(ctx, msg)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, backend.turnCount(), "handler must execute exactly once")
}

func TestEnqueue_NonUserRolesMarkedSeenAndDropped(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	msg := userMessage("conv-1", "reply")
	msg.Role = store.RoleAssistant
	s.Enqueue(context.Background(), msg)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, backend.turnCount())
	assert.True(t, s.Seen(msg.ID))
}

func TestEnqueue_StaleItemsNeverProcessed(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{}
	s := New(Config{
		Store:     backing,
		Backend:   backend,
		Sessions:  session.New(backing, nil),
		StartedAt: time.Now(),
		IdleWait:  10 * time.Millisecond,
	})
	stop := startScheduler(t, s)
	defer stop()

	msg := userMessage("conv-1", "from before the restart")
	msg.CreatedAt = time.Now().Add(-time.Hour)
	s.Enqueue(context.Background(), msg)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, backend.turnCount())
	assert.True(t, s.Seen(msg.ID))
}

func TestDrain_PerConversationExclusivity(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{delay: 80 * time.Millisecond}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	first := userMessage("conv-1", "first")
	second := userMessage("conv-1", "second")
	require.NoError(t, backing.SaveMessage(ctx, first))
	require.NoError(t, backing.SaveMessage(ctx, second))

	s.Enqueue(ctx, first)
	s.Enqueue(ctx, second)

	waitFor(t, func() bool {
		return messageStatus(t, backing, second.ID) == store.MessageStatusCompleted
	})

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.turns, 2)
	assert.False(t, backend.turns[1].started.Before(backend.turns[0].finished),
		"second turn for the same conversation must not start before the first finishes")
}

func TestDrain_CrossConversationConcurrency(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{delay: 150 * time.Millisecond}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	a := userMessage("conv-a", "hi")
	b := userMessage("conv-b", "hi")
	require.NoError(t, backing.SaveMessage(ctx, a))
	require.NoError(t, backing.SaveMessage(ctx, b))

	s.Enqueue(ctx, a)
	s.Enqueue(ctx, b)

	// Both turns must be in flight at the same moment.
	waitFor(t, func() bool { return backend.turnCount() == 2 })
	backend.mu.Lock()
	bothStarted := backend.turns[0].finished.IsZero() || backend.turns[1].started.Before(backend.turns[0].finished)
	backend.mu.Unlock()
	assert.True(t, bothStarted, "turns for distinct conversations must overlap")

	waitFor(t, func() bool {
		return messageStatus(t, backing, a.ID) == store.MessageStatusCompleted &&
			messageStatus(t, backing, b.ID) == store.MessageStatusCompleted
	})
}

func TestHandler_TransitiveSessionTokens(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{tokens: []string{"tok-a", "tok-b", "tok-c"}}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		msg := userMessage("conv-1", content)
		require.NoError(t, backing.SaveMessage(ctx, msg))
		s.Enqueue(ctx, msg)
		waitFor(t, func() bool {
			return messageStatus(t, backing, msg.ID) == store.MessageStatusCompleted
		})
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.turns, 3)
	assert.Empty(t, backend.turns[0].req.SessionToken, "first turn has no token")
	assert.Equal(t, "tok-a", backend.turns[1].req.SessionToken, "second turn resumes with turn one's token")
	assert.Equal(t, "tok-b", backend.turns[2].req.SessionToken, "third turn resumes with turn two's token, not turn one's")
}

func TestHandler_PreambleOnFirstTurnOnly(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{tokens: []string{"tok-a"}}
	s := New(Config{
		Store:     backing,
		Backend:   backend,
		Sessions:  session.New(backing, nil),
		Preamble:  "You are the household assistant.",
		StartedAt: time.Now().Add(-time.Minute),
		IdleWait:  10 * time.Millisecond,
	})
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	for _, content := range []string{"one", "two"} {
		msg := userMessage("conv-1", content)
		require.NoError(t, backing.SaveMessage(ctx, msg))
		s.Enqueue(ctx, msg)
		waitFor(t, func() bool {
			return messageStatus(t, backing, msg.ID) == store.MessageStatusCompleted
		})
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Contains(t, backend.turns[0].req.Prompt, "household assistant")
	assert.NotContains(t, backend.turns[1].req.Prompt, "household assistant",
		"preamble must not be re-sent once a token is held")
}

func TestHandler_NoTokenDegradedMode(t *testing.T) {
	// A backend that never yields a token keeps the conversation in
	// degraded mode: the preamble is re-sent on every turn.
	backing := store.NewMockStore()
	backend := &stubBackend{}
	s := New(Config{
		Store:     backing,
		Backend:   backend,
		Sessions:  session.New(backing, nil),
		Preamble:  "Preamble.",
		StartedAt: time.Now().Add(-time.Minute),
		IdleWait:  10 * time.Millisecond,
	})
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	for _, content := range []string{"one", "two"} {
		msg := userMessage("conv-1", content)
		require.NoError(t, backing.SaveMessage(ctx, msg))
		s.Enqueue(ctx, msg)
		waitFor(t, func() bool {
			return messageStatus(t, backing, msg.ID) == store.MessageStatusCompleted
		})
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Contains(t, backend.turns[0].req.Prompt, "Preamble.")
	assert.Contains(t, backend.turns[1].req.Prompt, "Preamble.")
}

func TestHandler_FailureIsTerminal(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{fail: "model unavailable"}
	s := newTestScheduler(t, backing, backend)
	stop := startScheduler(t, s)
	defer stop()

	ctx := context.Background()
	msg := userMessage("conv-1", "hello")
	require.NoError(t, backing.SaveMessage(ctx, msg))
	s.Enqueue(ctx, msg)

	waitFor(t, func() bool {
		return messageStatus(t, backing, msg.ID) == store.MessageStatusError
	})

	// A system-role diagnostic was recorded.
	msgs, err := backing.ListMessages(ctx)
	require.NoError(t, err)
	var diag *store.Message
	for _, m := range msgs {
		if m.Role == store.RoleSystem {
			diag = m
		}
	}
	require.NotNil(t, diag, "diagnostic message not found")
	assert.Contains(t, diag.Content, "model unavailable")
	assert.Equal(t, store.MessageStatusCompleted, diag.Status)

	// Errors are terminal: redelivery never retries.
	assert.True(t, s.Seen(msg.ID))
	s.Enqueue(ctx, msg)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, backend.turnCount())
}

func TestDrain_FIFOWithinConversation(t *testing.T) {
	backing := store.NewMockStore()
	backend := &stubBackend{}
	s := newTestScheduler(t, backing, backend)

	ctx := context.Background()
	msgs := []*store.Message{
		userMessage("conv-1", "first"),
		userMessage("conv-1", "second"),
		userMessage("conv-1", "third"),
	}
	for _, m := range msgs {
		require.NoError(t, backing.SaveMessage(ctx, m))
		s.Enqueue(ctx, m)
		time.Sleep(2 * time.Millisecond) // distinct enqueue times
	}

	stop := startScheduler(t, s)
	defer stop()

	waitFor(t, func() bool { return backend.turnCount() == 3 })
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "first", backend.turns[0].req.Prompt)
	assert.Equal(t, "second", backend.turns[1].req.Prompt)
	assert.Equal(t, "third", backend.turns[2].req.Prompt)
}
