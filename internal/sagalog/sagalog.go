// Package sagalog is the durable saga log store (C2): one row per step the
// coordinator has observed in any saga, with idempotent append and fast
// per-correlation lookup.
package sagalog

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one observed step in one saga (§3 "SagaLogEntry").
type Entry struct {
	EntryID       string
	CorrelationID string
	StepIndex     int
	EventKind     string
	EventPayload  []byte
	RecordedAt    time.Time
}

// Store is the C2 contract. Implementations must make Append atomic with
// respect to the caller's "step complete" moment: in this module the
// coordinator appends through TxStore.AppendTx, in the same local
// transaction as the outbox row that will dispatch
// the resulting command (see internal/outbox), so a crash between them
// cannot lose either half.
type Store interface {
	// Append records entry. If (CorrelationID, StepIndex, EventKind)
	// already exists, Append is a no-op — the invariant in §3 that
	// duplicates are silently dropped for idempotency.
	Append(ctx context.Context, entry Entry) error

	// ReadByCorrelation returns every entry for correlationID, ordered by
	// StepIndex then RecordedAt.
	ReadByCorrelation(ctx context.Context, correlationID string) ([]Entry, error)

	// HasEntry reports whether (correlationID, stepIndex, eventKind) has
	// already been recorded, for idempotency checks before acting on an
	// event.
	HasEntry(ctx context.Context, correlationID string, stepIndex int, eventKind string) (bool, error)
}

// TxStore is implemented by Store backends that can also append within a
// caller-owned transaction. The coordinator uses this to keep a step's log
// entry, its outbox row, and its saga-row update in one commit (§4.2, §9).
type TxStore interface {
	Store
	AppendTx(ctx context.Context, tx *sql.Tx, entry Entry) error
}
