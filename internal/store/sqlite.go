// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Flat record collections with automatic schema creation and change-feed wakeups

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	messageFeed *feed
	faultFeed   *feed
	commandFeed *feed
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		logger:      logger,
		messageFeed: newFeed(),
		faultFeed:   newFeed(),
		commandFeed: newFeed(),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the record collections if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,

			CHECK (role IN ('user', 'assistant', 'system')),
			CHECK (status IN ('pending', 'processing', 'completed', 'error', 'replaced'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS errors (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			resolution TEXT,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL,

			CHECK (status IN ('pending', 'processing', 'completed', 'failed'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_token TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS heartbeats (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			last_seen_at DATETIME NOT NULL,

			CHECK (kind IN ('host', 'mobile', 'web'))
		);

		CREATE INDEX IF NOT EXISTS idx_heartbeats_kind ON heartbeats(kind);

		CREATE TABLE IF NOT EXISTS admin_commands (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,

			CHECK (status IN ('pending', 'done', 'failed'))
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage inserts a message record and wakes message watchers.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Status, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	s.messageFeed.notify()
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, content, status, created_at
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// UpdateMessageStatus updates a single message's status and wakes watchers.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.messageFeed.notify()
	return nil
}

// ListMessages returns all messages ordered by creation time.
func (s *SQLiteStore) ListMessages(ctx context.Context) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, status, created_at
		FROM messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Status, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// WatchMessages invokes fn with the full message set now and after every
// message write until ctx is cancelled.
func (s *SQLiteStore) WatchMessages(ctx context.Context, fn MessagesFunc) {
	wake := s.messageFeed.subscribe(ctx)
	go func() {
		for range wake {
			msgs, err := s.ListMessages(ctx)
			if err != nil {
				s.logger.Error("message watch query failed", "error", err)
				continue
			}
			fn(msgs)
		}
	}()
}

// SaveFault inserts a fault record and wakes fault watchers.
func (s *SQLiteStore) SaveFault(ctx context.Context, fault *Fault) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (id, kind, payload, source, status, resolution, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fault.ID, fault.Kind, fault.Payload, fault.Source, fault.Status,
		fault.Resolution, timeOrNil(fault.ResolvedAt), fault.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving fault: %w", err)
	}
	s.faultFeed.notify()
	return nil
}

// GetFault retrieves a fault by ID.
func (s *SQLiteStore) GetFault(ctx context.Context, id string) (*Fault, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, source, status, resolution, resolved_at, created_at
		FROM errors WHERE id = ?`, id)
	return scanFault(row)
}

// UpdateFault overwrites a fault's mutable fields and wakes watchers.
func (s *SQLiteStore) UpdateFault(ctx context.Context, fault *Fault) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE errors SET status = ?, resolution = ?, resolved_at = ? WHERE id = ?`,
		fault.Status, fault.Resolution, timeOrNil(fault.ResolvedAt), fault.ID)
	if err != nil {
		return fmt.Errorf("updating fault: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.faultFeed.notify()
	return nil
}

// ListFaults returns all faults ordered by creation time.
func (s *SQLiteStore) ListFaults(ctx context.Context) ([]*Fault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, source, status, resolution, resolved_at, created_at
		FROM errors ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing faults: %w", err)
	}
	defer rows.Close()

	var faults []*Fault
	for rows.Next() {
		fault := &Fault{}
		var resolution sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&fault.ID, &fault.Kind, &fault.Payload, &fault.Source,
			&fault.Status, &resolution, &resolvedAt, &fault.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning fault: %w", err)
		}
		if resolution.Valid {
			fault.Resolution = &resolution.String
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			fault.ResolvedAt = &t
		}
		faults = append(faults, fault)
	}
	return faults, rows.Err()
}

// WatchFaults invokes fn with the full fault set now and after every fault
// write until ctx is cancelled.
func (s *SQLiteStore) WatchFaults(ctx context.Context, fn FaultsFunc) {
	wake := s.faultFeed.subscribe(ctx)
	go func() {
		for range wake {
			faults, err := s.ListFaults(ctx)
			if err != nil {
				s.logger.Error("fault watch query failed", "error", err)
				continue
			}
			fn(faults)
		}
	}()
}

// GetConversation retrieves a conversation's continuation token.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_token, updated_at FROM conversations WHERE id = ?`, id)

	conv := &Conversation{}
	err := row.Scan(&conv.ID, &conv.SessionToken, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// PutConversation upserts a conversation record. Last writer wins.
func (s *SQLiteStore) PutConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_token = excluded.session_token,
			updated_at = excluded.updated_at`,
		conv.ID, conv.SessionToken, conv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("putting conversation: %w", err)
	}
	return nil
}

// GetHeartbeatByKind returns the most recent heartbeat of the given kind.
func (s *SQLiteStore) GetHeartbeatByKind(ctx context.Context, kind string) (*Heartbeat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, last_seen_at FROM heartbeats
		WHERE kind = ? ORDER BY last_seen_at DESC LIMIT 1`, kind)

	hb := &Heartbeat{}
	err := row.Scan(&hb.ID, &hb.Kind, &hb.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting heartbeat: %w", err)
	}
	return hb, nil
}

// PutHeartbeat upserts a heartbeat record.
func (s *SQLiteStore) PutHeartbeat(ctx context.Context, hb *Heartbeat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (id, kind, last_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			last_seen_at = excluded.last_seen_at`,
		hb.ID, hb.Kind, hb.LastSeenAt.UTC())
	if err != nil {
		return fmt.Errorf("putting heartbeat: %w", err)
	}
	return nil
}

// SaveAdminCommand inserts an admin command and wakes command watchers.
func (s *SQLiteStore) SaveAdminCommand(ctx context.Context, cmd *AdminCommand) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_commands (id, action, status, created_at)
		VALUES (?, ?, ?, ?)`,
		cmd.ID, cmd.Action, cmd.Status, cmd.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving admin command: %w", err)
	}
	s.commandFeed.notify()
	return nil
}

// UpdateAdminCommandStatus marks a command done or failed.
func (s *SQLiteStore) UpdateAdminCommandStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE admin_commands SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating admin command: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.commandFeed.notify()
	return nil
}

// ListAdminCommands returns all admin commands ordered by creation time.
func (s *SQLiteStore) ListAdminCommands(ctx context.Context) ([]*AdminCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, status, created_at
		FROM admin_commands ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing admin commands: %w", err)
	}
	defer rows.Close()

	var cmds []*AdminCommand
	for rows.Next() {
		cmd := &AdminCommand{}
		if err := rows.Scan(&cmd.ID, &cmd.Action, &cmd.Status, &cmd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning admin command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// WatchAdminCommands invokes fn with the full command set now and after
// every command write until ctx is cancelled.
func (s *SQLiteStore) WatchAdminCommands(ctx context.Context, fn CommandsFunc) {
	wake := s.commandFeed.subscribe(ctx)
	go func() {
		for range wake {
			cmds, err := s.ListAdminCommands(ctx)
			if err != nil {
				s.logger.Error("admin command watch query failed", "error", err)
				continue
			}
			fn(cmds)
		}
	}()
}

func scanMessage(row *sql.Row) (*Message, error) {
	msg := &Message{}
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Status, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return msg, nil
}

func scanFault(row *sql.Row) (*Fault, error) {
	fault := &Fault{}
	var resolution sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&fault.ID, &fault.Kind, &fault.Payload, &fault.Source,
		&fault.Status, &resolution, &resolvedAt, &fault.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning fault: %w", err)
	}
	if resolution.Valid {
		fault.Resolution = &resolution.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		fault.ResolvedAt = &t
	}
	return fault, nil
}

// timeOrNil converts an optional timestamp into a driver-friendly value.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
