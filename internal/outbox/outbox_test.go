package outbox_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
)

var _ bus.Bus = (*fakeBus)(nil)

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
	_, err = db.ExecContext(ctx, outbox.Schema)
	require.NoError(t, err)
	return db
}

type fakeBus struct {
	mu        sync.Mutex
	published []codec.Envelope
	failTopic string
}

func (f *fakeBus) Publish(ctx context.Context, topic string, env codec.Envelope) error {
	if topic == f.failTopic {
		return fmt.Errorf("simulated publish failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}
func (f *fakeBus) Subscribe(ctx context.Context, topic, group string, handler bus.Handler) (bus.Subscription, error) {
	return nil, nil
}
func (f *fakeBus) Close() error { return nil }

func TestDispatcherRunMarksOnlySuccessfulPublishesDispatched(t *testing.T) {
	db := setupPostgres(t)
	store := outbox.NewStore(db, zap.NewNop())
	ctx := context.Background()

	ok, err := codec.NewEnvelope("msg-ok", "corr-ok", codec.KindRegisterCampaign, "coordinator", time.Now().UTC(), codec.RegisterCampaign{CampaignID: "c-ok"})
	require.NoError(t, err)
	bad, err := codec.NewEnvelope("msg-bad", "corr-bad", codec.KindRegisterCampaign, "coordinator", time.Now().UTC(), codec.RegisterCampaign{CampaignID: "c-bad"})
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, tx, "campaigns.commands", ok))
	require.NoError(t, store.Enqueue(ctx, tx, "campaigns.broken", bad))
	require.NoError(t, tx.Commit())

	fb := &fakeBus{failTopic: "campaigns.broken"}
	dispatcher := outbox.NewDispatcher(store, fb, zap.NewNop())
	require.NoError(t, dispatcher.Run(ctx))

	checkTx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	pending, err := store.Pending(ctx, checkTx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "campaigns.broken", pending[0].Topic)
	require.NoError(t, checkTx.Commit())

	fb.mu.Lock()
	require.Len(t, fb.published, 1)
	require.Equal(t, "corr-ok", fb.published[0].CorrelationID)
	fb.mu.Unlock()
}

func TestDispatcherPublishesPendingRowsAndMarksThemDispatched(t *testing.T) {
	db := setupPostgres(t)
	store := outbox.NewStore(db, zap.NewNop())
	ctx := context.Background()

	env, err := codec.NewEnvelope("msg-1", "corr-1", codec.KindRegisterCampaign, "coordinator", time.Now().UTC(), codec.RegisterCampaign{CampaignID: "c1"})
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, tx, "campaigns.commands", env))
	require.NoError(t, tx.Commit())

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	pending, err := store.Pending(ctx, tx1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "campaigns.commands", pending[0].Topic)
	require.Equal(t, "corr-1", pending[0].Envelope.CorrelationID)
	require.NoError(t, store.MarkDispatched(ctx, tx1, pending[0].ID))
	require.NoError(t, tx1.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	pending, err = store.Pending(ctx, tx2, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.NoError(t, tx2.Commit())
}

// TestPendingSkipsRowsLockedByAnotherTx guards the fix for the double-dispatch
// race: two concurrent dispatchers (two coordinator replicas) must claim
// disjoint rows, not the same one.
func TestPendingSkipsRowsLockedByAnotherTx(t *testing.T) {
	db := setupPostgres(t)
	store := outbox.NewStore(db, zap.NewNop())
	ctx := context.Background()

	env, err := codec.NewEnvelope("msg-1", "corr-1", codec.KindRegisterCampaign, "coordinator", time.Now().UTC(), codec.RegisterCampaign{CampaignID: "c1"})
	require.NoError(t, err)

	seedTx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, seedTx, "campaigns.commands", env))
	require.NoError(t, seedTx.Commit())

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	held, err := store.Pending(ctx, holder, 10)
	require.NoError(t, err)
	require.Len(t, held, 1)
	defer func() { _ = holder.Rollback() }()

	racer, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = racer.Rollback() }()
	skipped, err := store.Pending(ctx, racer, 10)
	require.NoError(t, err)
	require.Empty(t, skipped, "row locked by holder must be skipped, not claimed twice")
}
