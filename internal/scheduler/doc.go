// Package scheduler contains the two cooperative drain loops at the heart
// of the handler worker.
//
// # Work queue
//
// The Scheduler admits user messages through a chain of synchronous
// guards (seen-set, role, staleness, duplicate-queue) and processes them
// with per-conversation mutual exclusion: the in-flight conversation set
// is the sole concurrency-control primitive. Items for distinct
// conversations run concurrently; items sharing a conversation serialize.
// Selection is strict FIFO by enqueue time.
//
// An item is terminal after one handler execution — completed or errored —
// and its identity enters the grow-only seen-set, so at-least-once
// redelivery from the store's change feed can never reprocess it.
//
// # Fault queue
//
// The FaultProcessor shares the admission structure but runs strictly
// FIFO with a single global in-flight slot. Each fix attempt is an
// isolated agent invocation with no session resumption.
//
// # Sessions
//
// Continuation tokens are transitive: each turn yields a fresh token that
// must be used for the next turn. The handler captures the most recent
// non-empty token in the response stream and persists it before the item
// is marked completed.
package scheduler
