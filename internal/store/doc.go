// Package store provides persistent storage for coven-warden using SQLite.
//
// # Collections
//
// Flat record collections, each keyed by a generated identifier:
//
//   - messages: conversational turns with a status lifecycle
//     (pending → processing → completed/error)
//   - errors: reported faults awaiting an automated fix attempt
//   - conversations: continuation tokens for resuming agent sessions
//   - heartbeats: liveness records written on an interval
//   - admin_commands: operator requests delivered to the supervisor
//
// # Change feed
//
// WatchMessages, WatchFaults and WatchAdminCommands invoke their callback
// with the full current result set whenever any record in the collection
// changes. Delivery is at-least-once and may repeat unchanged data; the
// scheduler's seen-set makes consumption idempotent.
//
// # SQLite configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// # Testing
//
// Use NewMockStore() for unit tests; it implements Store including the
// change-feed semantics. Use NewSQLiteStore with t.TempDir() for
// integration tests with real SQLite.
package store
