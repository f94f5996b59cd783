// Package agent defines the external agent backend contract and the CLI
// subprocess implementation of it.
//
// A turn is one Request (prompt, optional continuation token, tool
// allow-list) answered by a stream of typed Events: an init event, zero or
// more text deltas, and a terminal result or error. Any event may carry a
// session token; the token is transitive, so the caller must capture the
// latest one and supply it on the next turn.
package agent
