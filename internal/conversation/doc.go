// ABOUTME: Package conversation is the service facade over the chat store
// ABOUTME: Commands in, domain events out; dispatch is decoupled from the write path

// Package conversation exposes the caller-facing chat API: starting
// conversations, membership changes, message sends with notification fan-out,
// per-participant read/flag/delete state, and paginated listings.
//
// Operations that change shared state return a domain event value. When the
// service is constructed with a Dispatcher the event is also published after
// the storage transaction commits, fire-and-forget; the in-memory Broadcaster
// is the bundled implementation.
package conversation
