// ABOUTME: Conversation session store mapping conversation IDs to continuation tokens.
// ABOUTME: In-process cache over the durable store; last writer wins, no merge.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-warden/internal/store"
)

// SessionStore defines what the session layer needs from storage.
type SessionStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	PutConversation(ctx context.Context, conv *store.Conversation) error
}

// Store resolves and records continuation tokens. Reads hit an in-process
// cache first and fall back to one durable point lookup per conversation.
type Store struct {
	mu     sync.Mutex
	cache  map[string]string
	store  SessionStore
	logger *slog.Logger
}

// New creates a session store. Pass nil logger for the default.
func New(s SessionStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:  make(map[string]string),
		store:  s,
		logger: logger.With("component", "session"),
	}
}

// Get returns the continuation token for a conversation, or "" if no
// successful turn has completed yet. A cache miss performs one durable
// point lookup and caches the result.
func (s *Store) Get(ctx context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	token, ok := s.cache[conversationID]
	s.mu.Unlock()
	if ok {
		return token, nil
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up session: %w", err)
	}

	s.mu.Lock()
	s.cache[conversationID] = conv.SessionToken
	s.mu.Unlock()

	return conv.SessionToken, nil
}

// Put records a new continuation token for a conversation, overwriting any
// previous one in both the cache and the durable store.
func (s *Store) Put(ctx context.Context, conversationID, token string) error {
	s.mu.Lock()
	s.cache[conversationID] = token
	s.mu.Unlock()

	err := s.store.PutConversation(ctx, &store.Conversation{
		ID:           conversationID,
		SessionToken: token,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	s.logger.Debug("session token updated", "conversation_id", conversationID)
	return nil
}
