package outbox

import (
	"context"
	"time"
)

// Store is the typed access layer over the outbox_messages table consumed by
// the relay engine. Every mutating call carries the record's last seen
// version; a false return means another worker moved the record first and
// the caller must drop it without retrying. Implementations refresh the
// passed record from the row on success.
type Store interface {
	// LeasePending returns up to limit records with status PENDING that are
	// unclaimed or already claimed by workerID, ordered by created_at.
	LeasePending(ctx context.Context, workerID string, limit int) ([]Record, error)
	// Claim assigns the record to workerID, guarded by version.
	Claim(ctx context.Context, rec *Record, workerID string) (bool, error)
	// MarkSent transitions the record to SENT, sets processed_at, and clears
	// the error message, guarded by version.
	MarkSent(ctx context.Context, rec *Record) (bool, error)
	// MarkFailed increments retry_count and stores the cause. At the retry
	// budget the record is promoted to DEAD_LETTER with processed_at set;
	// otherwise it returns to PENDING with worker_id cleared so the next
	// poll retries it. Guarded by version.
	MarkFailed(ctx context.Context, rec *Record, cause error) (bool, error)
	// CountByStatus returns the number of records in the given status.
	CountByStatus(ctx context.Context, status Status) (int64, error)
	// DeleteSentBefore prunes SENT records processed before cutoff and
	// returns the number deleted. Records in other statuses are never
	// touched.
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ReleaseClaims clears worker_id on PENDING records leased by workerID
	// so another worker can take them over.
	ReleaseClaims(ctx context.Context, workerID string) (int64, error)
}

// Appender enlists a record in the caller's transaction. The capture
// interceptor writes through it; postgres.Store.WithExecutor binds one to a
// pgx transaction.
type Appender interface {
	// Append persists a new PENDING record.
	Append(ctx context.Context, rec *Record) error
}

// AppenderFunc adapts a function to Appender.
type AppenderFunc func(ctx context.Context, rec *Record) error

// Append implements Appender.
func (fn AppenderFunc) Append(ctx context.Context, rec *Record) error {
	return fn(ctx, rec)
}
