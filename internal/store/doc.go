// Package store provides a SQLite-backed replay ledger.
//
// The store persists every accepted nonce so that at-most-once admission
// survives process restarts. It implements ledger.Ledger.
//
// # Claiming
//
// Claim is a single INSERT .. ON CONFLICT(nonce) DO NOTHING. The UNIQUE
// constraint on nonce makes the check-and-insert atomic: the row count tells
// the caller whether it won. There is no read-then-write window.
//
// # Ordering
//
// Rows carry an autoincrement id. Listings order by id, never by
// accepted_at, so two entries with equal wall-clock times still list in
// admission order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Nonces are never deleted. The table grows by one row per accepted
// submission.
package store
