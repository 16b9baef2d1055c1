//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaywire/outbox"
	"github.com/relaywire/outbox/postgres"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time {
	return c.now
}

func TestStoreAppendLeaseMarkSentIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	records := []*outbox.Record{
		pendingRecord("1", base),
		pendingRecord("2", base.Add(time.Second)),
		pendingRecord("3", base.Add(2*time.Second)),
	}
	appendRecords(t, ctx, pool, store, records)

	batch, err := store.LeasePending(ctx, "worker-a", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "1", batch[0].AggregateID)
	require.Equal(t, "2", batch[1].AggregateID)

	rec := batch[0]
	claimed, err := store.Claim(ctx, &rec, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, "worker-a", rec.WorkerID)
	require.Equal(t, int64(1), rec.Version)

	sent, err := store.MarkSent(ctx, &rec)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, outbox.StatusSent, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
	require.Equal(t, int64(2), rec.Version)

	count, err := store.CountByStatus(ctx, outbox.StatusSent)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	remaining, err := store.LeasePending(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestStoreClaimConflictIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	appendRecords(t, ctx, pool, store, []*outbox.Record{pendingRecord("1", time.Now().UTC())})

	batchA, err := store.LeasePending(ctx, "worker-a", 1)
	require.NoError(t, err)
	batchB, err := store.LeasePending(ctx, "worker-b", 1)
	require.NoError(t, err)

	recA := batchA[0]
	recB := batchB[0]

	claimed, err := store.Claim(ctx, &recA, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.Claim(ctx, &recB, "worker-b")
	require.NoError(t, err)
	require.False(t, claimed, "stale version must lose the claim race")

	stale, err := store.MarkSent(ctx, &recB)
	require.NoError(t, err)
	require.False(t, stale, "stale version must not mark sent")

	released, err := store.ReleaseClaims(ctx, "worker-a")
	require.NoError(t, err)
	require.Equal(t, int64(1), released)

	batchB, err = store.LeasePending(ctx, "worker-b", 1)
	require.NoError(t, err)
	require.Len(t, batchB, 1)
	require.Empty(t, batchB[0].WorkerID)
}

func TestStoreMarkFailedLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	rec := pendingRecord("1", time.Now().UTC())
	rec.MaxRetries = 2
	appendRecords(t, ctx, pool, store, []*outbox.Record{rec})

	batch, err := store.LeasePending(ctx, "worker-a", 1)
	require.NoError(t, err)
	current := batch[0]

	claimed, err := store.Claim(ctx, &current, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)

	failed, err := store.MarkFailed(ctx, &current, errors.New("broker down"))
	require.NoError(t, err)
	require.True(t, failed)
	require.Equal(t, outbox.StatusPending, current.Status)
	require.Equal(t, 1, current.RetryCount)
	require.Equal(t, "broker down", current.ErrorMessage)
	require.Empty(t, current.WorkerID, "transient failure must release the claim")
	require.Nil(t, current.ProcessedAt)

	claimed, err = store.Claim(ctx, &current, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)

	failed, err = store.MarkFailed(ctx, &current, errors.New("broker down"))
	require.NoError(t, err)
	require.True(t, failed)
	require.Equal(t, outbox.StatusDeadLetter, current.Status)
	require.Equal(t, 2, current.RetryCount)
	require.NotNil(t, current.ProcessedAt)
	require.Equal(t, "worker-a", current.WorkerID)

	remaining, err := store.LeasePending(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	count, err := store.CountByStatus(ctx, outbox.StatusDeadLetter)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestStoreAppendRollbackIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	bound, err := store.WithExecutor(tx)
	require.NoError(t, err)
	require.NoError(t, bound.Append(ctx, pendingRecord("1", time.Now().UTC())))
	require.NoError(t, tx.Rollback(ctx))

	count, err := store.CountByStatus(ctx, outbox.StatusPending)
	require.NoError(t, err)
	require.Zero(t, count, "rolled back append must leave no record")
}

func TestStoreDeleteSentBeforeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	now := time.Now().UTC()
	oldStore, err := postgres.NewStore(pool, postgres.WithClock(stubClock{now: now.Add(-48*time.Hour)}))
	require.NoError(t, err)
	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	appendRecords(t, ctx, pool, store, []*outbox.Record{
		pendingRecord("old", now.Add(-48*time.Hour)),
		pendingRecord("fresh", now),
	})

	batch, err := oldStore.LeasePending(ctx, "worker-a", 1)
	require.NoError(t, err)
	aged := batch[0]
	claimed, err := oldStore.Claim(ctx, &aged, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)
	sent, err := oldStore.MarkSent(ctx, &aged)
	require.NoError(t, err)
	require.True(t, sent)

	deleted, err := store.DeleteSentBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	count, err := store.CountByStatus(ctx, outbox.StatusPending)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "pending records are never pruned")
}

func TestMigrateIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, dsn := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	require.NoError(t, postgres.Migrate(ctx, dsn))
	require.NoError(t, postgres.Migrate(ctx, dsn), "migrations must be idempotent")

	store, err := postgres.NewStore(pool)
	require.NoError(t, err)

	appendRecords(t, ctx, pool, store, []*outbox.Record{pendingRecord("1", time.Now().UTC())})

	batch, err := store.LeasePending(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestCleanupMaintainerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, pool, _ := startPostgresContainer(t, ctx)
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, pool)

	now := time.Now().UTC()
	oldStore, err := postgres.NewStore(pool, postgres.WithClock(stubClock{now: now.Add(-72*time.Hour)}))
	require.NoError(t, err)

	sentRec := pendingRecord("sent", now.Add(-72*time.Hour))
	deadRec := pendingRecord("dead", now.Add(-71*time.Hour))
	deadRec.MaxRetries = 1
	freshRec := pendingRecord("fresh", now)
	appendRecords(t, ctx, pool, oldStore, []*outbox.Record{sentRec, deadRec, freshRec})

	batch, err := oldStore.LeasePending(ctx, "worker-a", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	first := batch[0]
	claimed, err := oldStore.Claim(ctx, &first, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)
	sent, err := oldStore.MarkSent(ctx, &first)
	require.NoError(t, err)
	require.True(t, sent)

	second := batch[1]
	claimed, err = oldStore.Claim(ctx, &second, "worker-a")
	require.NoError(t, err)
	require.True(t, claimed)
	failed, err := oldStore.MarkFailed(ctx, &second, errors.New("poison message"))
	require.NoError(t, err)
	require.True(t, failed)
	require.Equal(t, outbox.StatusDeadLetter, second.Status)

	maintainer, err := postgres.NewCleanupMaintainer(pool, postgres.CleanupMaintainerConfig{
		Retention:         24 * time.Hour,
		IncludeDeadLetter: true,
	})
	require.NoError(t, err)

	result, err := maintainer.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Sent)
	require.Equal(t, int64(1), result.DeadLetter)

	count, err := oldStore.CountByStatus(ctx, outbox.StatusPending)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "fresh pending record must survive cleanup")
}

func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *pgxpool.Pool, string) {
	t.Helper()
	port := nat.Port("5432/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "outbox",
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_DB":       "outbox",
		},
		WaitingFor: wait.ForSQL(port, "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://outbox:secret@%s:%s/outbox?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://outbox:secret@%s:%s/outbox?sslmode=disable", host, mappedPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open pool: %v", err)
	}
	return container, pool, dsn
}

func setupSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	schema, err := postgres.Schema("outbox_messages")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)
}

func appendRecords(t *testing.T, ctx context.Context, pool *pgxpool.Pool, store *postgres.Store, records []*outbox.Record) {
	t.Helper()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	bound, err := store.WithExecutor(tx)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, bound.Append(ctx, rec))
	}
	require.NoError(t, tx.Commit(ctx))
}

func pendingRecord(aggregateID string, createdAt time.Time) *outbox.Record {
	return &outbox.Record{
		AggregateID:   aggregateID,
		AggregateType: "User",
		EventType:     "USER_INSERT",
		Payload:       []byte(`{"id":1}`),
		CreatedAt:     createdAt,
	}
}
