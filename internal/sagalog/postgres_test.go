package sagalog_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "saga_test",
			"POSTGRES_USER":     "saga",
			"POSTGRES_PASSWORD": "saga",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("host=%s port=%s user=saga password=saga dbname=saga_test sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Eventually(t, func() bool { return db.Ping() == nil }, 10*time.Second, 200*time.Millisecond)
	_, err = db.ExecContext(ctx, sagalog.Schema)
	require.NoError(t, err)
	return db
}

func TestPostgresStoreAppendIsIdempotent(t *testing.T) {
	db := setupPostgres(t)
	store := sagalog.NewPostgresStore(db, zap.NewNop())
	ctx := context.Background()

	entry := sagalog.Entry{
		EntryID:       "11111111-1111-1111-1111-111111111111",
		CorrelationID: "corr-1",
		StepIndex:     0,
		EventKind:     "Start",
		EventPayload:  []byte(`{}`),
	}

	require.NoError(t, store.Append(ctx, entry))
	// Same (correlation_id, step_index, event_kind) again, different entry id.
	dup := entry
	dup.EntryID = "22222222-2222-2222-2222-222222222222"
	require.NoError(t, store.Append(ctx, dup))

	entries, err := store.ReadByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry.EntryID, entries[0].EntryID)
}

func TestPostgresStoreReadByCorrelationOrdersBySteps(t *testing.T) {
	db := setupPostgres(t)
	store := sagalog.NewPostgresStore(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, sagalog.Entry{
		EntryID: "33333333-3333-3333-3333-333333333333", CorrelationID: "corr-2",
		StepIndex: 1, EventKind: "Step1", EventPayload: []byte(`{}`),
	}))
	require.NoError(t, store.Append(ctx, sagalog.Entry{
		EntryID: "44444444-4444-4444-4444-444444444444", CorrelationID: "corr-2",
		StepIndex: 0, EventKind: "Start", EventPayload: []byte(`{}`),
	}))

	entries, err := store.ReadByCorrelation(ctx, "corr-2")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Start", entries[0].EventKind)
	require.Equal(t, "Step1", entries[1].EventKind)
}

func TestPostgresStoreHasEntry(t *testing.T) {
	db := setupPostgres(t)
	store := sagalog.NewPostgresStore(db, zap.NewNop())
	ctx := context.Background()

	has, err := store.HasEntry(ctx, "corr-3", 0, "Start")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, store.Append(ctx, sagalog.Entry{
		EntryID: "55555555-5555-5555-5555-555555555555", CorrelationID: "corr-3",
		StepIndex: 0, EventKind: "Start", EventPayload: []byte(`{}`),
	}))

	has, err = store.HasEntry(ctx, "corr-3", 0, "Start")
	require.NoError(t, err)
	require.True(t, has)
}
