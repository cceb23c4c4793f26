// Package outbox implements the outbox pattern §9 calls for: a command the
// coordinator decides to send is written to an `outbox` row in the same
// local transaction as the saga_log append that decided it, so a crash
// between "log the step" and "publish the command" cannot lose the
// command. A background dispatcher polls undispatched rows and publishes
// them, marking each dispatched only after Publish succeeds.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/repository"
	"go.uber.org/zap"
)

// Row is one pending (or dispatched) outbound envelope.
type Row struct {
	ID         int64
	Topic      string
	Envelope   codec.Envelope
	Dispatched bool
	CreatedAt  time.Time
}

// Schema is the DDL for the outbox table.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id          BIGSERIAL PRIMARY KEY,
	topic       TEXT NOT NULL,
	envelope    JSONB NOT NULL,
	dispatched  BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outbox_undispatched_idx ON outbox (id) WHERE NOT dispatched;
`

// Store persists and retrieves outbox rows.
type Store struct {
	*repository.BaseRepository
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{BaseRepository: repository.NewBaseRepository(db, log)}
}

// Enqueue writes env for topic within tx — call this inside the same
// transaction that appends the deciding saga_log entry.
func (s *Store) Enqueue(ctx context.Context, tx *sql.Tx, topic string, env codec.Envelope) error {
	wire, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("outbox: marshal envelope: %w", err)
	}
	const q = `INSERT INTO outbox (topic, envelope) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, q, topic, wire); err != nil {
		return fmt.Errorf("outbox: enqueue for topic %s: %w", topic, err)
	}
	return nil
}

// Pending claims up to limit undispatched rows within tx, oldest first,
// locking them FOR UPDATE SKIP LOCKED so a second dispatcher running
// concurrently (another coordinator replica) claims a disjoint set instead
// of racing this one to publish the same row twice. The caller must hold tx
// open until each claimed row is published and MarkDispatched, then commit.
func (s *Store) Pending(ctx context.Context, tx *sql.Tx, limit int) ([]Row, error) {
	const q = `
		SELECT id, topic, envelope, dispatched, created_at
		FROM outbox
		WHERE NOT dispatched
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: query pending: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var wire []byte
		if err := rows.Scan(&r.ID, &r.Topic, &wire, &r.Dispatched, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan row: %w", err)
		}
		env, err := codec.Unmarshal(wire)
		if err != nil {
			return nil, fmt.Errorf("outbox: decode row %d: %w", r.ID, err)
		}
		r.Envelope = env
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkDispatched flags id as dispatched so the dispatcher never resends it.
// Must run in the same tx that claimed id via Pending, so the row-lock
// covers the publish-then-mark sequence atomically.
func (s *Store) MarkDispatched(ctx context.Context, tx *sql.Tx, id int64) error {
	const q = `UPDATE outbox SET dispatched = true WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark dispatched %d: %w", id, err)
	}
	return nil
}

// Dispatcher polls Store for undispatched rows and publishes them via Bus.
type Dispatcher struct {
	store *Store
	bus   bus.Bus
	log   *zap.Logger
	batch int
}

// NewDispatcher builds a Dispatcher. Call Run in a goroutine or wrap it in a
// pkg/lifecycle.BackgroundWorker for periodic polling.
func NewDispatcher(store *Store, b bus.Bus, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, bus: b, log: log, batch: 100}
}

// Run publishes one batch of pending rows, claimed for this run alone via
// FOR UPDATE SKIP LOCKED — safe to run from multiple coordinator replicas
// concurrently. Rows whose publish fails are left undispatched for the next
// Run to retry — at-least-once delivery, matching the bus's own
// TransientSendError retry contract.
func (d *Dispatcher) Run(ctx context.Context) error {
	tx, err := d.store.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: dispatcher begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pending, err := d.store.Pending(ctx, tx, d.batch)
	if err != nil {
		return fmt.Errorf("outbox: dispatcher fetch pending: %w", err)
	}

	for _, row := range pending {
		if err := d.bus.Publish(ctx, row.Topic, row.Envelope); err != nil {
			d.log.Warn("outbox dispatch failed, will retry next run",
				zap.Int64("outbox_id", row.ID), zap.String("topic", row.Topic), zap.Error(err))
			continue
		}
		if err := d.store.MarkDispatched(ctx, tx, row.ID); err != nil {
			d.log.Error("outbox mark dispatched failed; row may be republished",
				zap.Int64("outbox_id", row.ID), zap.Error(err))
		}
	}
	return tx.Commit()
}
