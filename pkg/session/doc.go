// Package session owns the table of live call sessions and drives the
// per-call dialog cycle.
//
// Ownership model:
//   - Manager holds the canonical session table keyed by call id; every
//     other component works through the *Session handle it hands out.
//   - One turn worker per session serializes turn processing for that
//     call; sessions never share mutable state, so cross-call work runs
//     fully concurrently.
//   - Closing a session cancels its context first, so any in-flight
//     generation or synthesis request for the call dies before the
//     handle is invalidated. A response arriving after close is
//     discarded, never played.
package session
