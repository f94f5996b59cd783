// ABOUTME: Per-item turn handler: session resolution, agent invocation, result persistence.
// ABOUTME: Failures are terminal for the item; they never crash the worker and never retry.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/store"
)

// process runs one agent turn for a dequeued message. Success persists an
// assistant message and marks the original completed; any failure marks
// the original errored and records a system-role diagnostic. Either way
// the item is terminal.
func (s *Scheduler) process(ctx context.Context, msg *store.Message) {
	logger := s.logger.With(
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID)

	if err := s.store.UpdateMessageStatus(ctx, msg.ID, store.MessageStatusProcessing); err != nil {
		logger.Warn("failed to mark message processing", "error", err)
	}

	reply, err := s.runTurn(ctx, msg)
	if err != nil {
		logger.Error("turn failed", "error", err)
		if uerr := s.store.UpdateMessageStatus(ctx, msg.ID, store.MessageStatusError); uerr != nil {
			logger.Error("failed to mark message errored", "error", uerr)
		}
		diag := &store.Message{
			ID:             uuid.New().String(),
			ConversationID: msg.ConversationID,
			Role:           store.RoleSystem,
			Content:        fmt.Sprintf("Processing failed: %v", err),
			Status:         store.MessageStatusCompleted,
			CreatedAt:      time.Now().UTC(),
		}
		if serr := s.store.SaveMessage(ctx, diag); serr != nil {
			logger.Error("failed to record diagnostic message", "error", serr)
		}
		return
	}

	assistant := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		Role:           store.RoleAssistant,
		Content:        reply,
		Status:         store.MessageStatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, assistant); err != nil {
		logger.Error("failed to save assistant message", "error", err)
	}
	if err := s.store.UpdateMessageStatus(ctx, msg.ID, store.MessageStatusCompleted); err != nil {
		logger.Error("failed to mark message completed", "error", err)
	}

	logger.Info("turn completed", "reply_chars", len(reply))

	if s.pusher != nil {
		if err := s.pusher.Push(ctx, "Assistant replied", reply, map[string]string{
			"conversation_id": msg.ConversationID,
		}); err != nil {
			logger.Warn("push notification failed", "error", err)
		}
	}
}

// runTurn resolves the continuation token, invokes the backend, and
// consumes the event stream. It returns the concatenated assistant text.
//
// Token capture is transitive: the most recent non-empty session token
// observed anywhere in the stream replaces earlier ones, so the terminal
// result's token wins when present. A turn that yields no token degrades
// gracefully — the preamble is re-sent until one is captured.
func (s *Scheduler) runTurn(ctx context.Context, msg *store.Message) (string, error) {
	token, err := s.sessions.Get(ctx, msg.ConversationID)
	if err != nil {
		return "", err
	}

	prompt := msg.Content
	if token == "" && s.preamble != "" {
		prompt = s.preamble + "\n\n" + msg.Content
	}

	events, err := s.backend.Invoke(ctx, &agent.Request{
		Prompt:       prompt,
		SessionToken: token,
		Tools:        s.tools,
	})
	if err != nil {
		return "", fmt.Errorf("invoking agent: %w", err)
	}

	var text strings.Builder
	var resultText string
	var newToken string
	var turnErr error

	for ev := range events {
		if ev.SessionID != "" {
			newToken = ev.SessionID
		}
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

	if newToken != "" && newToken != token {
		if err := s.sessions.Put(ctx, msg.ConversationID, newToken); err != nil {
			return "", err
		}
	}
	if newToken == "" {
		s.logger.Warn("no session token observed in agent stream",
			"conversation_id", msg.ConversationID)
	}

	// Streaming deltas are the source of truth; the terminal result text
	// covers non-streaming backends.
	reply := text.String()
	if reply == "" {
		reply = resultText
	}
	if reply == "" {
		return "", errors.New("agent returned no text")
	}
	return reply, nil
}
