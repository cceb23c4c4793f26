package contracts_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/correlation"
	"github.com/alpespartners/saga-orchestrator/internal/services/contracts"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
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
	_, err = db.ExecContext(ctx, contracts.Schema)
	require.NoError(t, err)
	return db
}

func setupGuard(t *testing.T) *correlation.Guard {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.Eventually(t, func() bool { return client.Ping(ctx).Err() == nil }, 10*time.Second, 200*time.Millisecond)

	return correlation.NewGuard(client, time.Hour)
}

type recordingBus struct {
	published []struct {
		topic string
		env   codec.Envelope
	}
	handlers map[string]bus.Handler
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[string]bus.Handler)}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, env codec.Envelope) error {
	b.published = append(b.published, struct {
		topic string
		env   codec.Envelope
	}{topic, env})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic, group string, h bus.Handler) (bus.Subscription, error) {
	b.handlers[topic] = h
	return nil, nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) deliver(ctx context.Context, topic string, env codec.Envelope) bus.Result {
	h, ok := b.handlers[topic]
	if !ok {
		panic(fmt.Sprintf("no handler subscribed for topic %q", topic))
	}
	return h(ctx, env)
}

var _ bus.Bus = (*recordingBus)(nil)

func newCreateContractEnvelope(correlationID, contractID, influencerID, campaignID string) codec.Envelope {
	env, err := codec.NewEnvelope(correlation.NewMessageID(), correlationID, codec.KindCreateContract, "coordinator", time.Now().UTC(), codec.CreateContract{
		ContractID:      contractID,
		InfluencerID:    influencerID,
		InfluencerName:  "Ada Lovelace",
		InfluencerEmail: "ada@example.com",
		CampaignID:      campaignID,
		CampaignName:    "Summer Launch",
		Categories:      []string{"tech"},
		BaseAmount:      "10.00",
		Currency:        "USD",
		Period:          codec.Period{Start: time.Now().UTC()},
		ContractType:    codec.ContractOneOff,
	})
	if err != nil {
		panic(err)
	}
	return env
}

func newHarness(t *testing.T) (*contracts.Repository, *recordingBus) {
	db := setupPostgres(t)
	guard := setupGuard(t)
	repo := contracts.NewRepository(db, zap.NewNop())
	b := newRecordingBus()
	lg, err := logger.NewDefault()
	require.NoError(t, err)
	w := contracts.NewWorker(repo, b, guard, lg)
	_, err = w.Start(context.Background())
	require.NoError(t, err)
	return repo, b
}

func TestCreateContractPersistsAndEmitsCreated(t *testing.T) {
	repo, b := newHarness(t)
	ctx := context.Background()
	env := newCreateContractEnvelope(correlation.NewID(), "contract-1", "inf-1", "camp-1")

	result := b.deliver(ctx, contracts.TopicCommands, env)
	require.Equal(t, bus.Ack, result)

	require.Len(t, b.published, 1)
	require.Equal(t, contracts.TopicEvents, b.published[0].topic)
	require.Equal(t, codec.KindContractCreated, b.published[0].env.Type)

	stored, ok, err := repo.Get(ctx, "contract-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "camp-1", stored.CampaignID)
}

func TestCreateContractDuplicateActiveEmitsContractError(t *testing.T) {
	_, b := newHarness(t)
	ctx := context.Background()

	first := newCreateContractEnvelope(correlation.NewID(), "contract-2", "inf-2", "camp-2")
	require.Equal(t, bus.Ack, b.deliver(ctx, contracts.TopicCommands, first))

	second := newCreateContractEnvelope(correlation.NewID(), "contract-3", "inf-2", "camp-2")
	require.Equal(t, bus.Ack, b.deliver(ctx, contracts.TopicCommands, second))

	require.Len(t, b.published, 2)
	require.Equal(t, contracts.TopicErrorEvents, b.published[1].topic)
	require.Equal(t, codec.KindContractError, b.published[1].env.Type)
}
