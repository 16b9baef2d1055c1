package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/relaywire/outbox"
)

// maxErrorLen bounds the stored error_message.
const maxErrorLen = 1024

// Executor is the subset of pgx operations the store issues. *pgxpool.Pool,
// *pgx.Conn, and pgx.Tx all satisfy it; binding a transaction makes Append
// part of the caller's commit.
type Executor interface {
	// Exec executes a statement.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a query returning rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query returning at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the outbox store on PostgreSQL using version-guarded
// updates instead of row locks, so a crashed worker never blocks the table.
type Store struct {
	db      Executor
	cfg     Config
	queries queries
	table   string
}

var _ outbox.Store = (*Store)(nil)
var _ outbox.Appender = (*Store)(nil)

// NewStore constructs a PostgreSQL store with validated configuration.
func NewStore(db Executor, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a PostgreSQL store or panics on error.
func MustNewStore(db Executor, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// WithExecutor returns a copy of the store bound to exec, typically a pgx.Tx,
// so Append enlists the record in the caller's transaction.
func (s *Store) WithExecutor(exec Executor) (*Store, error) {
	if exec == nil {
		return nil, ErrExecutorRequired
	}

	bound := *s
	bound.db = exec

	return &bound, nil
}

// Table returns the sanitized table name the store operates on.
func (s *Store) Table() string {
	return s.table
}

// Append inserts a new record. Zero-value id, created_at, status, and
// max_retries fields are filled with their defaults before validation, and
// the record reflects what was written.
func (s *Store) Append(ctx context.Context, rec *outbox.Record) error {
	if rec == nil {
		return ErrRecordRequired
	}

	if rec.ID == uuid.Nil {
		id, err := s.cfg.IDs.New()
		if err != nil {
			return fmt.Errorf("outbox postgres: generate id failed: %w", err)
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.cfg.Clock.Now()
	}
	if rec.Status == "" {
		rec.Status = outbox.StatusPending
	}
	if rec.MaxRetries <= 0 {
		rec.MaxRetries = defaultMaxRetries
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	changedFields := any(nil)
	if len(rec.ChangedFields) > 0 {
		changedFields = string(rec.ChangedFields)
	}

	_, err := s.db.Exec(
		ctx,
		s.queries.insert,
		rec.ID,
		rec.AggregateID,
		rec.AggregateType,
		rec.EventType,
		string(rec.Payload),
		changedFields,
		rec.Status.String(),
		rec.CreatedAt,
		rec.RetryCount,
		rec.MaxRetries,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("outbox postgres: insert failed: %w", err)
	}

	return nil
}

// LeasePending returns up to limit PENDING records that are unclaimed or
// already claimed by workerID, oldest first.
func (s *Store) LeasePending(ctx context.Context, workerID string, limit int) ([]outbox.Record, error) {
	if limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	rows, err := s.db.Query(ctx, s.queries.leasePending, outbox.StatusPending.String(), workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: lease query failed: %w", err)
	}
	defer rows.Close()

	records := make([]outbox.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox postgres: scan failed: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox postgres: rows failed: %w", err)
	}

	return records, nil
}

// Claim assigns the record to workerID if its version is unchanged. A false
// return means another worker moved the record first.
func (s *Store) Claim(ctx context.Context, rec *outbox.Record, workerID string) (bool, error) {
	row := s.db.QueryRow(ctx, s.queries.claim, workerID, rec.ID, rec.Version)

	updated, err := scanRecord(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("outbox postgres: claim failed: %w", err)
	}
	*rec = updated

	return true, nil
}

// MarkSent transitions the record to SENT, stamps processed_at, and clears
// the stored error, guarded by version.
func (s *Store) MarkSent(ctx context.Context, rec *outbox.Record) (bool, error) {
	row := s.db.QueryRow(
		ctx,
		s.queries.markSent,
		outbox.StatusSent.String(),
		s.cfg.Clock.Now(),
		rec.ID,
		rec.Version,
	)

	updated, err := scanRecord(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("outbox postgres: mark sent failed: %w", err)
	}
	*rec = updated

	return true, nil
}

// MarkFailed records a failed attempt, guarded by version. At the retry
// budget the record becomes DEAD_LETTER with processed_at set; otherwise it
// returns to PENDING with worker_id cleared for the next poll.
func (s *Store) MarkFailed(ctx context.Context, rec *outbox.Record, cause error) (bool, error) {
	row := s.db.QueryRow(
		ctx,
		s.queries.markFailed,
		truncateError(cause),
		outbox.StatusDeadLetter.String(),
		outbox.StatusPending.String(),
		s.cfg.Clock.Now(),
		rec.ID,
		rec.Version,
	)

	updated, err := scanRecord(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("outbox postgres: mark failed failed: %w", err)
	}
	*rec = updated

	return true, nil
}

// CountByStatus returns the number of records in the given status.
func (s *Store) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, s.queries.countByStatus, status.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox postgres: count failed: %w", err)
	}

	return count, nil
}

// DeleteSentBefore prunes SENT records processed before cutoff and returns
// the number deleted.
func (s *Store) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, s.queries.deleteSentBefore, outbox.StatusSent.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox postgres: delete sent failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ReleaseClaims clears worker_id on PENDING records leased by workerID and
// returns the number released.
func (s *Store) ReleaseClaims(ctx context.Context, workerID string) (int64, error) {
	tag, err := s.db.Exec(ctx, s.queries.releaseClaims, outbox.StatusPending.String(), workerID)
	if err != nil {
		return 0, fmt.Errorf("outbox postgres: release claims failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row in the canonical column order. Callers wrap the
// returned error, so pgx.ErrNoRows stays detectable via errors.Is.
func scanRecord(row rowScanner) (outbox.Record, error) {
	var (
		rec           outbox.Record
		payload       string
		changedFields pgtype.Text
		status        string
		processedAt   pgtype.Timestamptz
		errorMessage  pgtype.Text
		workerID      pgtype.Text
	)

	if err := row.Scan(
		&rec.ID,
		&rec.AggregateID,
		&rec.AggregateType,
		&rec.EventType,
		&payload,
		&changedFields,
		&status,
		&rec.CreatedAt,
		&processedAt,
		&rec.RetryCount,
		&rec.MaxRetries,
		&errorMessage,
		&workerID,
		&rec.Version,
	); err != nil {
		return outbox.Record{}, err
	}

	parsed, err := outbox.ParseStatus(status)
	if err != nil {
		return outbox.Record{}, err
	}
	rec.Status = parsed

	rec.Payload = json.RawMessage(payload)
	if changedFields.Valid {
		rec.ChangedFields = json.RawMessage(changedFields.String)
	}
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	if errorMessage.Valid {
		rec.ErrorMessage = errorMessage.String
	}
	if workerID.Valid {
		rec.WorkerID = workerID.String
	}

	return rec, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}
	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
