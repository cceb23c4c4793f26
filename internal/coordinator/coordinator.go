package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/correlation"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
	"github.com/alpespartners/saga-orchestrator/pkg/contextx"
	"github.com/alpespartners/saga-orchestrator/pkg/graceful"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	"github.com/alpespartners/saga-orchestrator/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names are part of the wire contract (§6); the version drift the
// source exhibited (comandos-contratos vs comandos-contratos-v2, and
// similar) is deliberately not carried forward — exactly one name per
// logical channel.
const (
	TopicCreateInfluencer   = "events-create-influencer"
	TopicInfluencerEvents   = "events-influencers"
	TopicCampaignCommands   = "commands-campaigns"
	TopicCampaignEvents     = "events-campaigns"
	TopicCampaignDeletion   = "events-campaigns-deletion"
	TopicContractCommands   = "commands-contracts"
	TopicContractEvents     = "events-contracts"
	TopicContractErrorEvents = "events-contracts-error"
)

// GroupCoordinator is the shared-subscription group name the coordinator's
// own consumers register under.
const GroupCoordinator = "coordinator"

// action is the routing-table entry for one observed event kind: the
// handler that checks the saga status/step it requires and decides the
// next command. The table is built once at construction and never mutated afterward
// (§9 "model as an explicit routing table").
type action func(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error)

// Coordinator is the single explicit value driving the saga state machine
// (§9 "replace [global singletons] with a single explicit CoordinatorService
// value constructed at startup"). It owns no hidden registries; its routing
// table is built once in New and read-only from then on.
type Coordinator struct {
	db      *sql.DB
	sagas   Store
	log     sagalog.TxStore
	outbox  *outbox.Store
	bus     bus.Bus
	logger  logger.Logger
	timeout time.Duration
	idGen   *shared.IDGenerator
	guard   *correlation.Guard

	routes map[codec.Kind]action

	keyLocks keyedMutex
}

// New builds a Coordinator with its routing table installed. guard may be
// nil; without it the coordinator relies solely on sagas.Create's
// ON CONFLICT DO NOTHING for one-saga-per-trigger idempotency.
func New(db *sql.DB, sagas Store, log sagalog.TxStore, ob *outbox.Store, b bus.Bus, lg logger.Logger, stepTimeout time.Duration, guard *correlation.Guard) *Coordinator {
	c := &Coordinator{
		db:       db,
		sagas:    sagas,
		log:      log,
		outbox:   ob,
		bus:      b,
		logger:   lg,
		timeout:  stepTimeout,
		idGen:    shared.NewIDGenerator(),
		guard:    guard,
		keyLocks: newKeyedMutex(),
	}
	c.routes = map[codec.Kind]action{
		codec.KindInfluencerRegistered: handleInfluencerRegistered,
		codec.KindCampaignCreated:      handleCampaignCreated,
		codec.KindContractCreated:      handleContractCreated,
		codec.KindContractError:        handleContractError,
		codec.KindCampaignDeleted:      handleCampaignDeleted,
		codec.KindCampaignError:        handleCampaignError,
	}
	return c
}

// HandleEnvelope is the bus.Handler the coordinator installs on every event
// topic it subscribes to. It serializes per correlation_id (§5) with an
// in-process mutex first, then a row-level lock inside the transaction for
// correctness across coordinator replicas.
func (c *Coordinator) HandleEnvelope(ctx context.Context, env codec.Envelope) bus.Result {
	ctx = contextx.WithCorrelationID(ctx, env.CorrelationID)

	act, ok := c.routes[env.Type]
	if !ok {
		c.logger.Warn("coordinator: no route for event kind, dropping", zap.String("kind", string(env.Type)))
		return bus.Ack
	}

	// Fast path for the one event kind that can open a new saga (§4.6
	// one-active-saga-per-trigger): a redelivered trigger for a
	// correlation_id already claimed is dropped here, before it pays for a
	// tx/row-lock round trip. sagas.Create's ON CONFLICT DO NOTHING remains
	// the source of truth if the guard is unavailable or its claim expired.
	if env.Type == codec.KindInfluencerRegistered && c.guard != nil {
		alreadyClaimed, err := c.guard.ClaimSaga(ctx, env.CorrelationID)
		if err != nil {
			c.logger.Warn("coordinator: saga claim guard unavailable, proceeding on store-level dedup only",
				zap.String("correlation_id", env.CorrelationID), zap.Error(err))
		} else if alreadyClaimed {
			return bus.Ack
		}
	}

	unlock := c.keyLocks.Lock(env.CorrelationID)
	defer unlock()

	if err := c.handle(ctx, act, env); err != nil {
		graceful.LogAndWrap(ctx, c.logger.GetZapLogger(), graceful.CodeInternal, "coordinator: handling envelope failed", err,
			zap.String("kind", string(env.Type)))
		return bus.NackRetry
	}
	return bus.Ack
}

func (c *Coordinator) handle(ctx context.Context, act action, env codec.Envelope) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coordinator: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var saga Saga
	isTrigger := env.Type == codec.KindInfluencerRegistered

	existing, ok, err := c.sagas.GetForUpdate(ctx, tx, env.CorrelationID)
	if err != nil {
		return err
	}
	switch {
	case ok:
		saga = existing
	case isTrigger:
		saga = Saga{
			CorrelationID: env.CorrelationID,
			Status:        StatusRunning,
			CurrentStep:   StepStart,
			Context:       map[string]string{},
			StepDeadline:  env.EmittedAt.Time().Add(c.timeout),
		}
		if err := c.sagas.Create(ctx, tx, saga); err != nil {
			if err == ErrAlreadyExists {
				// Lost the race with another delivery of the same trigger;
				// §4.6 one-active-saga-per-trigger — drop, not an error.
				return nil
			}
			return err
		}
	default:
		c.logger.Warn("coordinator: event for unknown saga, dropping",
			zap.String("correlation_id", env.CorrelationID), zap.String("kind", string(env.Type)))
		return nil
	}

	if saga.Status.Terminal() {
		c.logger.Warn("coordinator: event for terminal saga, dropping",
			zap.String("correlation_id", env.CorrelationID), zap.String("status", string(saga.Status)))
		return nil
	}

	next, err := act(ctx, c, tx, saga, env)
	if err != nil {
		return err
	}

	if err := c.sagas.Update(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

// logStep appends the next saga_log entry (step_index assigned as
// count-of-entries-so-far, keeping step_index strictly increasing with no
// gaps per §8 invariant 1) and enqueues the outbound envelope, if any, in
// the same transaction — the "log before dispatch, atomically" invariant
// (§4.5, §9). Re-processing an already-logged (correlation_id, event_kind)
// for this saga is a no-op: the saga_log unique index only guards
// (correlation_id, step_index, event_kind), but since step_index here is
// derived from existing entry count, the caller must check HasEntry-style
// idempotency itself before deciding to call logStep again for an event
// it may have already handled — callers guard this via saga.Status /
// saga.CurrentStep, which only admit one handler invocation that reaches
// a given logStep call.
func (c *Coordinator) logStep(ctx context.Context, tx *sql.Tx, correlationID string, kind codec.Kind, payload []byte, outTopic string, outEnv *codec.Envelope) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	stepIndex, err := c.nextStepIndex(ctx, tx, correlationID)
	if err != nil {
		return err
	}
	entry := sagalog.Entry{
		EntryID:       uuid.NewString(),
		CorrelationID: correlationID,
		StepIndex:     stepIndex,
		EventKind:     string(kind),
		EventPayload:  payload,
	}
	if err := c.log.AppendTx(ctx, tx, entry); err != nil {
		return err
	}
	if outEnv != nil {
		if err := c.outbox.Enqueue(ctx, tx, outTopic, *outEnv); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) nextStepIndex(ctx context.Context, tx *sql.Tx, correlationID string) (int, error) {
	const q = `SELECT COUNT(*) FROM saga_log WHERE correlation_id = $1`
	var n int
	if err := tx.QueryRowContext(ctx, q, correlationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("coordinator: count log entries for %s: %w", correlationID, err)
	}
	return n, nil
}

// keyedMutex hands out a lock per string key, used to serialize concurrent
// HandleEnvelope calls for the same correlation_id within one process
// (§5, §9 "per-key mutex protecting the log write + dispatch").
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
