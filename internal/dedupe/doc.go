// Package dedupe provides a grow-only seen-set that keeps at-least-once
// change-feed delivery idempotent: an item identity, once marked, is never
// processed again.
package dedupe
