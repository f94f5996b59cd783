// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping change-feed semantics

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	messages   map[string]*Message
	faults     map[string]*Fault
	convs      map[string]*Conversation
	heartbeats map[string]*Heartbeat
	commands   map[string]*AdminCommand

	messageFeed *feed
	faultFeed   *feed
	commandFeed *feed

	// FailPut forces PutConversation to return this error when set.
	FailPut error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages:    make(map[string]*Message),
		faults:      make(map[string]*Fault),
		convs:       make(map[string]*Conversation),
		heartbeats:  make(map[string]*Heartbeat),
		commands:    make(map[string]*AdminCommand),
		messageFeed: newFeed(),
		faultFeed:   newFeed(),
		commandFeed: newFeed(),
	}
}

// SaveMessage stores a copy of the message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	c := *msg
	m.messages[c.ID] = &c
	m.mu.Unlock()
	m.messageFeed.notify()
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

// UpdateMessageStatus updates a message's status.
func (m *MockStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if ok {
		msg.Status = status
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.messageFeed.notify()
	return nil
}

// ListMessages returns all messages ordered by creation time.
func (m *MockStore) ListMessages(ctx context.Context) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		c := *msg
		msgs = append(msgs, &c)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

// WatchMessages delivers the full message set on every change.
func (m *MockStore) WatchMessages(ctx context.Context, fn MessagesFunc) {
	wake := m.messageFeed.subscribe(ctx)
	go func() {
		for range wake {
			msgs, _ := m.ListMessages(ctx)
			fn(msgs)
		}
	}()
}

// SaveFault stores a copy of the fault.
func (m *MockStore) SaveFault(ctx context.Context, fault *Fault) error {
	m.mu.Lock()
	c := *fault
	m.faults[c.ID] = &c
	m.mu.Unlock()
	m.faultFeed.notify()
	return nil
}

// GetFault retrieves a fault by ID.
func (m *MockStore) GetFault(ctx context.Context, id string) (*Fault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fault, ok := m.faults[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *fault
	return &c, nil
}

// UpdateFault overwrites a fault's mutable fields.
func (m *MockStore) UpdateFault(ctx context.Context, fault *Fault) error {
	m.mu.Lock()
	existing, ok := m.faults[fault.ID]
	if ok {
		existing.Status = fault.Status
		existing.Resolution = fault.Resolution
		existing.ResolvedAt = fault.ResolvedAt
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.faultFeed.notify()
	return nil
}

// ListFaults returns all faults ordered by creation time.
func (m *MockStore) ListFaults(ctx context.Context) ([]*Fault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	faults := make([]*Fault, 0, len(m.faults))
	for _, fault := range m.faults {
		c := *fault
		faults = append(faults, &c)
	}
	sort.Slice(faults, func(i, j int) bool { return faults[i].CreatedAt.Before(faults[j].CreatedAt) })
	return faults, nil
}

// WatchFaults delivers the full fault set on every change.
func (m *MockStore) WatchFaults(ctx context.Context, fn FaultsFunc) {
	wake := m.faultFeed.subscribe(ctx)
	go func() {
		for range wake {
			faults, _ := m.ListFaults(ctx)
			fn(faults)
		}
	}()
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// PutConversation upserts a conversation record.
func (m *MockStore) PutConversation(ctx context.Context, conv *Conversation) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conv
	m.convs[c.ID] = &c
	return nil
}

// GetHeartbeatByKind returns the most recent heartbeat of the given kind.
func (m *MockStore) GetHeartbeatByKind(ctx context.Context, kind string) (*Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Heartbeat
	for _, hb := range m.heartbeats {
		if hb.Kind != kind {
			continue
		}
		if latest == nil || hb.LastSeenAt.After(latest.LastSeenAt) {
			latest = hb
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := *latest
	return &c, nil
}

// PutHeartbeat upserts a heartbeat record.
func (m *MockStore) PutHeartbeat(ctx context.Context, hb *Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *hb
	m.heartbeats[c.ID] = &c
	return nil
}

// SaveAdminCommand stores a copy of the command.
func (m *MockStore) SaveAdminCommand(ctx context.Context, cmd *AdminCommand) error {
	m.mu.Lock()
	c := *cmd
	m.commands[c.ID] = &c
	m.mu.Unlock()
	m.commandFeed.notify()
	return nil
}

// UpdateAdminCommandStatus updates a command's status.
func (m *MockStore) UpdateAdminCommandStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	cmd, ok := m.commands[id]
	if ok {
		cmd.Status = status
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.commandFeed.notify()
	return nil
}

// ListAdminCommands returns all commands ordered by creation time.
func (m *MockStore) ListAdminCommands(ctx context.Context) ([]*AdminCommand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmds := make([]*AdminCommand, 0, len(m.commands))
	for _, cmd := range m.commands {
		c := *cmd
		cmds = append(cmds, &c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].CreatedAt.Before(cmds[j].CreatedAt) })
	return cmds, nil
}

// WatchAdminCommands delivers the full command set on every change.
func (m *MockStore) WatchAdminCommands(ctx context.Context, fn CommandsFunc) {
	wake := m.commandFeed.subscribe(ctx)
	go func() {
		for range wake {
			cmds, _ := m.ListAdminCommands(ctx)
			fn(cmds)
		}
	}()
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
