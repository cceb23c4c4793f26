package sagalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/repository"
	"go.uber.org/zap"
)

// PostgresStore is the Store implementation backed by a `saga_log` table.
// Appends are linearizable per correlation_id because the unique index on
// (correlation_id, step_index, event_kind) is the only arbiter of
// duplicates — no application-level locking is needed.
type PostgresStore struct {
	*repository.BaseRepository
}

// NewPostgresStore builds a PostgresStore over db.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{BaseRepository: repository.NewBaseRepository(db, log)}
}

// Schema is the DDL for the saga_log table, applied at startup by
// cmd/coordinator (there is no separate migrations step).
const Schema = `
CREATE TABLE IF NOT EXISTS saga_log (
	entry_id       UUID PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	step_index     INTEGER NOT NULL,
	event_kind     TEXT NOT NULL,
	event_payload  JSONB NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (correlation_id, step_index, event_kind)
);
CREATE INDEX IF NOT EXISTS saga_log_correlation_idx ON saga_log (correlation_id, step_index);
`

const appendQuery = `
	INSERT INTO saga_log (entry_id, correlation_id, step_index, event_kind, event_payload, recorded_at)
	VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	ON CONFLICT (correlation_id, step_index, event_kind) DO NOTHING`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func appendEntry(ctx context.Context, db execer, entry Entry) error {
	var recordedAt interface{}
	if !entry.RecordedAt.IsZero() {
		recordedAt = entry.RecordedAt
	}

	_, err := db.ExecContext(ctx, appendQuery,
		entry.EntryID, entry.CorrelationID, entry.StepIndex, entry.EventKind, entry.EventPayload, recordedAt)
	if err != nil {
		return fmt.Errorf("sagalog: append entry for %s step %d: %w", entry.CorrelationID, entry.StepIndex, err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	return appendEntry(ctx, s.GetDB(), entry)
}

// AppendTx appends entry using the caller's transaction, so it commits
// atomically with whatever outbox row or saga-row update the caller makes
// in the same tx.
func (s *PostgresStore) AppendTx(ctx context.Context, tx *sql.Tx, entry Entry) error {
	return appendEntry(ctx, tx, entry)
}

func (s *PostgresStore) ReadByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	const q = `
		SELECT entry_id, correlation_id, step_index, event_kind, event_payload, recorded_at
		FROM saga_log
		WHERE correlation_id = $1
		ORDER BY step_index ASC, recorded_at ASC`

	rows, err := s.GetDB().QueryContext(ctx, q, correlationID)
	if err != nil {
		return nil, fmt.Errorf("sagalog: read by correlation %s: %w", correlationID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.CorrelationID, &e.StepIndex, &e.EventKind, &e.EventPayload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("sagalog: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sagalog: read by correlation %s: %w", correlationID, err)
	}
	return entries, nil
}

func (s *PostgresStore) HasEntry(ctx context.Context, correlationID string, stepIndex int, eventKind string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM saga_log WHERE correlation_id = $1 AND step_index = $2 AND event_kind = $3)`

	var exists bool
	if err := s.GetDB().QueryRowContext(ctx, q, correlationID, stepIndex, eventKind).Scan(&exists); err != nil {
		return false, fmt.Errorf("sagalog: has entry for %s step %d kind %s: %w", correlationID, stepIndex, eventKind, err)
	}
	return exists, nil
}
