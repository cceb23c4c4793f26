package repository

import (
	"context"
	"database/sql"
)

// Repository defines the common interface every domain repository in this
// module implements, whether it sits over sagalog, the Influencers store,
// the Campaigns store, or the Contracts store.
type Repository interface {
	GetDB() *sql.DB
	GetContext(ctx context.Context) context.Context
	WithTx(tx *sql.Tx) Repository
}
