// ABOUTME: Package store is the SQLite persistence layer for the chat core
// ABOUTME: Conversations, participation, messages, and per-participant notifications

// Package store persists conversations, memberships, messages, and the
// per-participant notification rows that track read/flagged/deleted state.
//
// The notification table is the fan-out artifact: sending a message inserts
// one row per participant inside the same transaction as the message itself,
// so a reader never observes a message without its notification set. All
// per-participant views (unread counts, message listings, soft deletes) go
// through that table.
//
// Timestamps are stored as fixed-width UTC strings so ORDER BY on them is
// stable; record ordering between concurrent sends is defined by the
// storage-assigned autoincrement id, not wall-clock time.
package store
