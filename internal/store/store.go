// ABOUTME: Store interface and record types for coven-warden persistence
// ABOUTME: Defines Message, Fault, Conversation, Heartbeat records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses.
const (
	MessageStatusPending    = "pending"
	MessageStatusProcessing = "processing"
	MessageStatusCompleted  = "completed"
	MessageStatusError      = "error"
	MessageStatusReplaced   = "replaced"
)

// Fault statuses.
const (
	FaultStatusPending    = "pending"
	FaultStatusProcessing = "processing"
	FaultStatusCompleted  = "completed"
	FaultStatusFailed     = "failed"
)

// Heartbeat kinds.
const (
	HeartbeatKindHost   = "host"
	HeartbeatKindMobile = "mobile"
	HeartbeatKindWeb    = "web"
)

// AdminCommand actions and statuses.
const (
	CommandRestartHandler = "restart-handler"
	CommandRestartBundler = "restart-bundler"
	CommandInstallDeps    = "install-mobile-deps"

	CommandStatusPending = "pending"
	CommandStatusDone    = "done"
	CommandStatusFailed  = "failed"
)

// Message is a single conversational turn. User messages are created by the
// upstream UI; assistant and system messages are written by the handler.
type Message struct {
	ID             string
	ConversationID string
	Role           string // user, assistant, system
	Content        string
	Status         string // pending, processing, completed, error, replaced
	CreatedAt      time.Time
}

// Fault is a reported error awaiting an automated fix attempt.
type Fault struct {
	ID         string
	Kind       string // free-form classification (crash, lint, build, ...)
	Payload    string
	Source     string
	Status     string // pending, processing, completed, failed
	Resolution *string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// Conversation holds the continuation token for resuming an agent session.
// The token is transitive: every completed turn yields a fresh one.
type Conversation struct {
	ID           string
	SessionToken string
	UpdatedAt    time.Time
}

// Heartbeat is a liveness record written on an interval by a running process.
type Heartbeat struct {
	ID         string
	Kind       string // host, mobile, web
	LastSeenAt time.Time
}

// AdminCommand is an administrative request delivered through the store to
// the running supervisor (restart a worker, reinstall bundler deps).
type AdminCommand struct {
	ID        string
	Action    string // restart-handler, restart-bundler, install-mobile-deps
	Status    string // pending, done, failed
	CreatedAt time.Time
}

// MessagesFunc receives the full current message set on every change.
type MessagesFunc func(msgs []*Message)

// FaultsFunc receives the full current fault set on every change.
type FaultsFunc func(faults []*Fault)

// CommandsFunc receives the full current admin command set on every change.
type CommandsFunc func(cmds []*AdminCommand)

// Store defines persistence for messages, faults, conversations, heartbeats
// and admin commands. Watch methods deliver the full matching result set
// whenever any record in the collection changes; delivery is at-least-once
// and may repeat unchanged data, so consumers must dedupe by record ID.
type Store interface {
	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string) error
	ListMessages(ctx context.Context) ([]*Message, error)
	WatchMessages(ctx context.Context, fn MessagesFunc)

	// Faults
	SaveFault(ctx context.Context, fault *Fault) error
	GetFault(ctx context.Context, id string) (*Fault, error)
	UpdateFault(ctx context.Context, fault *Fault) error
	ListFaults(ctx context.Context) ([]*Fault, error)
	WatchFaults(ctx context.Context, fn FaultsFunc)

	// Conversations (continuation tokens, last-writer-wins)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	PutConversation(ctx context.Context, conv *Conversation) error

	// Heartbeats
	GetHeartbeatByKind(ctx context.Context, kind string) (*Heartbeat, error)
	PutHeartbeat(ctx context.Context, hb *Heartbeat) error

	// Admin commands
	SaveAdminCommand(ctx context.Context, cmd *AdminCommand) error
	UpdateAdminCommandStatus(ctx context.Context, id, status string) error
	ListAdminCommands(ctx context.Context) ([]*AdminCommand, error)
	WatchAdminCommands(ctx context.Context, fn CommandsFunc)

	// Close releases any resources held by the store
	Close() error
}
