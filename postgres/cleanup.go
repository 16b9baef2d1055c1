package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaywire/outbox"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "outbox:cleanup:"
)

// CleanupOptions defines how to delete published and dead-lettered records.
type CleanupOptions struct {
	// Before removes rows processed before this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeDeadLetter removes DEAD_LETTER rows in addition to SENT rows.
	IncludeDeadLetter bool
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Sent       int64
	DeadLetter int64
}

// CleanupMaintainerConfig controls periodic cleanup of an outbox table.
type CleanupMaintainerConfig struct {
	// Table is the outbox table name. Use schema.table for non-default schema.
	Table string
	// Retention removes rows processed before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeDeadLetter removes dead-lettered rows in addition to sent rows.
	IncludeDeadLetter bool
	// LockName names the advisory lock. Defaults to outbox:cleanup:<table>.
	LockName string
	// Clock overrides the time source (useful for tests).
	Clock outbox.Clock
	// Logger receives warnings about cleanup failures.
	Logger outbox.Logger
}

// CleanupMaintainer runs periodic cleanup, serialized across processes by a
// session-level advisory lock.
type CleanupMaintainer struct {
	pool  *pgxpool.Pool
	store *Store
	cfg   CleanupMaintainerConfig
	key   int64
}

// Cleanup removes SENT rows (and optionally DEAD_LETTER rows) processed
// before opts.Before. Deletes are bounded by opts.Limit per call.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	remaining := limit
	sent, err := s.cleanupByStatus(ctx, outbox.StatusSent, opts.Before, remaining)
	if err != nil {
		return CleanupResult{}, err
	}
	remaining -= int(sent)

	var dead int64
	if opts.IncludeDeadLetter && remaining > 0 {
		dead, err = s.cleanupByStatus(ctx, outbox.StatusDeadLetter, opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	return CleanupResult{Sent: sent, DeadLetter: dead}, nil
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(pool *pgxpool.Pool, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = outbox.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = outbox.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	store, err := NewStore(pool, WithTable(cfg.Table), WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}
	cfg.Table = store.table
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.Table
	}

	return &CleanupMaintainer{
		pool:  pool,
		store: store,
		cfg:   cfg,
		key:   lockKey(cfg.LockName),
	}, nil
}

// Run periodically deletes old rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("outbox cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("outbox cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass. It returns a zero result without
// error when another session holds the cleanup lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("outbox postgres: cleanup conn failed: %w", err)
	}
	defer conn.Release()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("outbox cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Cleanup(ctx, CleanupOptions{
		Before:            before,
		Limit:             m.cfg.Limit,
		IncludeDeadLetter: m.cfg.IncludeDeadLetter,
	})
}

func (s *Store) cleanupByStatus(ctx context.Context, status outbox.Status, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	// #nosec G201 -- the table name is sanitized at construction.
	query := fmt.Sprintf(
		"DELETE FROM %[1]s WHERE ctid IN (SELECT ctid FROM %[1]s WHERE status = $1 AND processed_at IS NOT NULL AND processed_at <= $2 ORDER BY processed_at LIMIT $3)",
		s.table,
	)
	tag, err := s.db.Exec(ctx, query, status.String(), before, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox postgres: cleanup delete failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *pgxpool.Conn) (bool, error) {
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", m.key).Scan(&locked); err != nil {
		return false, fmt.Errorf("outbox postgres: acquire cleanup lock failed: %w", err)
	}

	return locked, nil
}

// releaseLock runs detached from ctx cancellation. An advisory lock survives
// returning the connection to the pool, so skipping the unlock would block
// other processes until the session closes.
func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *pgxpool.Conn) {
	var released bool
	if err := conn.QueryRow(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", m.key).Scan(&released); err != nil {
		m.cfg.Logger.Warn("outbox cleanup release lock failed", "err", err)
	}
}

// lockKey hashes the lock name into the advisory lock key space.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	// #nosec G115 -- advisory keys span the full signed 64-bit range.
	return int64(h.Sum64())
}
