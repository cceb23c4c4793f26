package coordinator_test

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
	"github.com/alpespartners/saga-orchestrator/internal/coordinator"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
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
	_, err = db.ExecContext(ctx, sagalog.Schema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, outbox.Schema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, coordinator.Schema)
	require.NoError(t, err)
	return db
}

type recordingBus struct {
	mu         sync.Mutex
	published  []published
	dispatcher *outbox.Dispatcher
}

type published struct {
	topic string
	env   codec.Envelope
}

func (f *recordingBus) Publish(ctx context.Context, topic string, env codec.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, env: env})
	return nil
}
func (f *recordingBus) Subscribe(ctx context.Context, topic, group string, handler bus.Handler) (bus.Subscription, error) {
	return nil, nil
}
func (f *recordingBus) Close() error { return nil }

// byTopic first drains the coordinator's outbox through the dispatcher, so
// it sees every command the coordinator has enqueued so far.
func (f *recordingBus) byTopic(topic string) []codec.Envelope {
	if f.dispatcher != nil {
		if err := f.dispatcher.Run(context.Background()); err != nil {
			panic(err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []codec.Envelope
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p.env)
		}
	}
	return out
}

func newHarness(t *testing.T) (*coordinator.Coordinator, *recordingBus, sagalog.Store, coordinator.Store) {
	db := setupPostgres(t)
	log := sagalog.NewPostgresStore(db, zap.NewNop())
	sagaStore := coordinator.NewPostgresStore(db, zap.NewNop())
	ob := outbox.NewStore(db, zap.NewNop())
	rb := &recordingBus{}
	rb.dispatcher = outbox.NewDispatcher(ob, rb, zap.NewNop())
	lg, err := logger.NewDefault()
	require.NoError(t, err)

	c := coordinator.New(db, sagaStore, log, ob, rb, lg, 10*time.Minute, nil)
	return c, rb, log, sagaStore
}

func influencerRegisteredEnvelope(correlationID, influencerID string) codec.Envelope {
	env, _ := codec.NewEnvelope("msg-"+influencerID, correlationID, codec.KindInfluencerRegistered, "influencers", time.Now().UTC(), codec.InfluencerRegistered{
		InfluencerID: influencerID,
		Name:         "Ana",
		Email:        "ana@x.io",
		Categories:   []string{"moda", "lifestyle"},
		RegisteredAt: time.Now().UTC(),
	})
	return env
}

func TestHappyPathCompletesSagaWithFourLogEntries(t *testing.T) {
	c, rb, log, sagaStore := newHarness(t)
	ctx := context.Background()
	correlationID := "corr-s1"

	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, influencerRegisteredEnvelope(correlationID, "inf-1")))

	registerCmds := rb.byTopic(coordinator.TopicCampaignCommands)
	require.Len(t, registerCmds, 1)
	var reg codec.RegisterCampaign
	require.NoError(t, codec.DecodePayload(registerCmds[0], &reg))

	campaignCreated, err := codec.NewEnvelope("msg-cc", correlationID, codec.KindCampaignCreated, "campaigns", time.Now().UTC(), codec.CampaignCreated{
		CampaignID:       reg.CampaignID,
		Name:             reg.Name,
		Commission:       reg.Commission,
		Period:           reg.Period,
		TargetCategories: reg.TargetCategories,
		OriginInfluencer: reg.OriginInfluencer,
	})
	require.NoError(t, err)
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, campaignCreated))

	contractCmds := rb.byTopic(coordinator.TopicContractCommands)
	require.Len(t, contractCmds, 1)
	var createContract codec.CreateContract
	require.NoError(t, codec.DecodePayload(contractCmds[0], &createContract))

	contractCreated, err := codec.NewEnvelope("msg-cr", correlationID, codec.KindContractCreated, "contracts", time.Now().UTC(), codec.ContractCreated{
		ContractID:   createContract.ContractID,
		InfluencerID: createContract.InfluencerID,
		CampaignID:   createContract.CampaignID,
		TotalAmount:  createContract.BaseAmount,
		Currency:     createContract.Currency,
		ContractType: createContract.ContractType,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, contractCreated))

	entries, err := log.ReadByCorrelation(ctx, correlationID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, []string{"Start", "Step1", "Step2", "End"}, kinds(entries))

	saga, ok, err := getSaga(ctx, sagaStore, correlationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, coordinator.StatusCompleted, saga.Status)
}

func TestContractErrorTriggersCompensationAndCompensatedStatus(t *testing.T) {
	c, rb, log, sagaStore := newHarness(t)
	ctx := context.Background()
	correlationID := "corr-s2"

	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, influencerRegisteredEnvelope(correlationID, "inf-2")))
	registerCmds := rb.byTopic(coordinator.TopicCampaignCommands)
	var reg codec.RegisterCampaign
	require.NoError(t, codec.DecodePayload(registerCmds[0], &reg))

	campaignCreated, _ := codec.NewEnvelope("msg-cc2", correlationID, codec.KindCampaignCreated, "campaigns", time.Now().UTC(), codec.CampaignCreated{
		CampaignID: reg.CampaignID, Name: reg.Name, Commission: reg.Commission,
		Period: reg.Period, TargetCategories: reg.TargetCategories, OriginInfluencer: reg.OriginInfluencer,
	})
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, campaignCreated))

	contractError, _ := codec.NewEnvelope("msg-ce", correlationID, codec.KindContractError, "contracts", time.Now().UTC(), codec.ContractError{
		ContractID: "k1", InfluencerID: "inf-2", CampaignID: reg.CampaignID,
		ErrorKind: "business_rule", ErrorDetail: "duplicate",
	})
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, contractError))

	deleteCmds := rb.byTopic(coordinator.TopicCampaignDeletion)
	require.Len(t, deleteCmds, 1)
	var del codec.DeleteCampaign
	require.NoError(t, codec.DecodePayload(deleteCmds[0], &del))
	require.Equal(t, reg.CampaignID, del.CampaignID)

	saga, ok, err := getSaga(ctx, sagaStore, correlationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, coordinator.StatusCompensating, saga.Status)

	campaignDeleted, _ := codec.NewEnvelope("msg-cd", correlationID, codec.KindCampaignDeleted, "campaigns", time.Now().UTC(), codec.CampaignDeleted{
		CampaignID: reg.CampaignID, DeletedAt: time.Now().UTC(),
	})
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, campaignDeleted))

	entries, err := log.ReadByCorrelation(ctx, correlationID)
	require.NoError(t, err)
	require.Equal(t, []string{"Start", "Step1", "Error", "Compensation", "End"}, kinds(entries))

	saga, ok, err = getSaga(ctx, sagaStore, correlationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, coordinator.StatusCompensated, saga.Status)
}

func TestDuplicateTriggerOpensExactlyOneSaga(t *testing.T) {
	c, rb, log, _ := newHarness(t)
	ctx := context.Background()
	correlationID := "corr-s3"

	env := influencerRegisteredEnvelope(correlationID, "inf-3")
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, env))
	require.Equal(t, bus.Ack, c.HandleEnvelope(ctx, env))

	require.Len(t, rb.byTopic(coordinator.TopicCampaignCommands), 1)

	entries, err := log.ReadByCorrelation(ctx, correlationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func kinds(entries []sagalog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventKind
	}
	return out
}

func getSaga(ctx context.Context, store coordinator.Store, correlationID string) (coordinator.Saga, bool, error) {
	ps, ok := store.(*coordinator.PostgresStore)
	if !ok {
		return coordinator.Saga{}, false, fmt.Errorf("unsupported store type in test")
	}
	tx, err := ps.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return coordinator.Saga{}, false, err
	}
	defer tx.Commit()
	return ps.GetForUpdate(ctx, tx, correlationID)
}
