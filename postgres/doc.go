// Package postgres provides the PostgreSQL store behind the outbox relay.
//
// The store uses:
//   - optimistic claims guarded by a version column (no row locks held
//     across publish attempts)
//   - ORDER BY created_at ASC for commit-order delivery
//   - LIMIT for batching
//   - a partial index on worker_id for claimed-row lookups
//
// See Schema for the table DDL, Migrate for the embedded golang-migrate
// migrations, and CleanupMaintainer for periodic row cleanup guarded by an
// advisory lock.
package postgres
