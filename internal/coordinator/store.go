package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/repository"
	jsoncodec "github.com/alpespartners/saga-orchestrator/pkg/json"
	"go.uber.org/zap"
)

// Schema is the DDL for the sagas table (§3, §6 "the core owns the
// saga_logs table" plus the saga row itself that carries status/current_step).
const Schema = `
CREATE TABLE IF NOT EXISTS sagas (
	correlation_id TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	current_step   INTEGER NOT NULL,
	context        JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	step_deadline  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sagas_step_deadline_idx ON sagas (step_deadline) WHERE status IN ('Running', 'Compensating');
`

// Store persists Saga rows. All mutating methods take the caller's
// transaction so a saga's status/step update commits atomically with the
// log entry and outbox row that caused it.
type Store interface {
	// Create inserts a new Running saga at StepStart. Returns an error
	// wrapping sql.ErrNoRows-shaped uniqueness violation as ErrAlreadyExists
	// if correlationID already has a row (one-active-saga-per-trigger, §4.6).
	Create(ctx context.Context, tx *sql.Tx, s Saga) error

	// GetForUpdate locks and returns the saga row for correlationID, or
	// ok=false if none exists. Must be called inside tx so the row lock
	// holds until the caller commits, serializing concurrent handlers for
	// the same correlation_id (§5).
	GetForUpdate(ctx context.Context, tx *sql.Tx, correlationID string) (s Saga, ok bool, err error)

	// Update persists s's mutable fields (status, current_step, context,
	// step_deadline, updated_at).
	Update(ctx context.Context, tx *sql.Tx, s Saga) error

	// ListTimedOut returns non-terminal sagas whose step_deadline has
	// passed, for the timeout sweeper (§4.5).
	ListTimedOut(ctx context.Context, now time.Time) ([]Saga, error)
}

// ErrAlreadyExists is returned by Create when correlationID already has a
// saga row — a re-delivered trigger event, not a new saga (§4.6).
var ErrAlreadyExists = fmt.Errorf("coordinator: saga already exists")

// PostgresStore is the Store implementation backed by the sagas table.
type PostgresStore struct {
	*repository.BaseRepository
}

// NewPostgresStore builds a PostgresStore over db.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{BaseRepository: repository.NewBaseRepository(db, log)}
}

func (s *PostgresStore) Create(ctx context.Context, tx *sql.Tx, saga Saga) error {
	ctxBlob, err := jsoncodec.Marshal(saga.Context)
	if err != nil {
		return fmt.Errorf("coordinator: marshal saga context: %w", err)
	}

	const q = `
		INSERT INTO sagas (correlation_id, status, current_step, context, step_deadline)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO NOTHING`

	res, err := tx.ExecContext(ctx, q, saga.CorrelationID, string(saga.Status), int(saga.CurrentStep), ctxBlob, nullTime(saga.StepDeadline))
	if err != nil {
		return fmt.Errorf("coordinator: create saga %s: %w", saga.CorrelationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coordinator: create saga %s: %w", saga.CorrelationID, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, tx *sql.Tx, correlationID string) (Saga, bool, error) {
	const q = `
		SELECT correlation_id, status, current_step, context, created_at, updated_at, step_deadline
		FROM sagas WHERE correlation_id = $1 FOR UPDATE`

	var saga Saga
	var status string
	var step int
	var ctxBlob []byte
	var deadline sql.NullTime

	row := tx.QueryRowContext(ctx, q, correlationID)
	err := row.Scan(&saga.CorrelationID, &status, &step, &ctxBlob, &saga.CreatedAt, &saga.UpdatedAt, &deadline)
	if err == sql.ErrNoRows {
		return Saga{}, false, nil
	}
	if err != nil {
		return Saga{}, false, fmt.Errorf("coordinator: get saga %s: %w", correlationID, err)
	}

	saga.Status = Status(status)
	saga.CurrentStep = Step(step)
	if deadline.Valid {
		saga.StepDeadline = deadline.Time
	}
	saga.Context = map[string]string{}
	if len(ctxBlob) > 0 {
		if err := jsoncodec.Unmarshal(ctxBlob, &saga.Context); err != nil {
			return Saga{}, false, fmt.Errorf("coordinator: decode saga context %s: %w", correlationID, err)
		}
	}
	return saga, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, tx *sql.Tx, saga Saga) error {
	ctxBlob, err := jsoncodec.Marshal(saga.Context)
	if err != nil {
		return fmt.Errorf("coordinator: marshal saga context: %w", err)
	}

	const q = `
		UPDATE sagas
		SET status = $2, current_step = $3, context = $4, step_deadline = $5, updated_at = now()
		WHERE correlation_id = $1`

	if _, err := tx.ExecContext(ctx, q, saga.CorrelationID, string(saga.Status), int(saga.CurrentStep), ctxBlob, nullTime(saga.StepDeadline)); err != nil {
		return fmt.Errorf("coordinator: update saga %s: %w", saga.CorrelationID, err)
	}
	return nil
}

func (s *PostgresStore) ListTimedOut(ctx context.Context, now time.Time) ([]Saga, error) {
	const q = `
		SELECT correlation_id, status, current_step, context, created_at, updated_at, step_deadline
		FROM sagas
		WHERE status IN ('Running', 'Compensating') AND step_deadline IS NOT NULL AND step_deadline < $1`

	rows, err := s.GetDB().QueryContext(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("coordinator: list timed out sagas: %w", err)
	}
	defer rows.Close()

	var out []Saga
	for rows.Next() {
		var saga Saga
		var status string
		var step int
		var ctxBlob []byte
		var deadline sql.NullTime
		if err := rows.Scan(&saga.CorrelationID, &status, &step, &ctxBlob, &saga.CreatedAt, &saga.UpdatedAt, &deadline); err != nil {
			return nil, fmt.Errorf("coordinator: scan timed out saga: %w", err)
		}
		saga.Status = Status(status)
		saga.CurrentStep = Step(step)
		if deadline.Valid {
			saga.StepDeadline = deadline.Time
		}
		saga.Context = map[string]string{}
		if len(ctxBlob) > 0 {
			if err := jsoncodec.Unmarshal(ctxBlob, &saga.Context); err != nil {
				return nil, fmt.Errorf("coordinator: decode timed out saga context: %w", err)
			}
		}
		out = append(out, saga)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
