package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/repository"
	jsoncodec "github.com/alpespartners/saga-orchestrator/pkg/json"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema is the DDL for the campaigns projection table. The unique index on
// name enforces the "duplicate name" business rule at the store boundary
// (§9 "validate inside the transaction with a unique index and treat the
// index violation as the authoritative business-rule error").
const Schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL UNIQUE,
	description         TEXT NOT NULL DEFAULT '',
	commission          JSONB NOT NULL,
	period              JSONB NOT NULL,
	target_categories   TEXT[] NOT NULL DEFAULT '{}',
	origin_influencer   JSONB NOT NULL,
	auto_activate       BOOLEAN NOT NULL DEFAULT false,
	active              BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL,
	deleted_at          TIMESTAMPTZ
);
`

// ErrDuplicateName is returned by Create on a name collision — the business
// rule a CampaignError event reports (§4.4).
var ErrDuplicateName = errors.New("campaigns: duplicate name")

// ErrAlreadyExists mirrors the other services' idempotent-create contract.
var ErrAlreadyExists = errors.New("campaigns: already exists")

// ErrNotFound is returned by Get/Delete when no row matches.
var ErrNotFound = errors.New("campaigns: not found")

// Repository persists the campaign projection.
type Repository struct {
	*repository.BaseRepository
}

// NewRepository builds a Repository over db.
func NewRepository(db *sql.DB, log *zap.Logger) *Repository {
	return &Repository{BaseRepository: repository.NewBaseRepository(db, log)}
}

func (r *Repository) Create(ctx context.Context, c Campaign) error {
	commission, err := jsoncodec.Marshal(c.Commission)
	if err != nil {
		return fmt.Errorf("campaigns: marshal commission: %w", err)
	}
	period, err := jsoncodec.Marshal(c.Period)
	if err != nil {
		return fmt.Errorf("campaigns: marshal period: %w", err)
	}
	origin, err := jsoncodec.Marshal(c.OriginInfluencer)
	if err != nil {
		return fmt.Errorf("campaigns: marshal origin influencer: %w", err)
	}

	const q = `
		INSERT INTO campaigns (id, name, description, commission, period, target_categories, origin_influencer, auto_activate, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.GetDB().ExecContext(ctx, q, c.ID, c.Name, c.Description, commission, period,
		pq.Array(c.TargetCategories), origin, c.AutoActivate, c.AutoActivate, c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "campaigns_name_key" {
				return ErrDuplicateName
			}
			return ErrAlreadyExists
		}
		return fmt.Errorf("campaigns: create %s: %w", c.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Campaign, bool, error) {
	const q = `
		SELECT id, name, description, commission, period, target_categories, origin_influencer, auto_activate, active, created_at, deleted_at
		FROM campaigns WHERE id = $1`

	var c Campaign
	var commission, period, origin []byte
	var categories pq.StringArray
	var deletedAt sql.NullTime
	row := r.GetDB().QueryRowContext(ctx, q, id)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &commission, &period, &categories, &origin, &c.AutoActivate, &c.Active, &c.CreatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return Campaign{}, false, nil
	}
	if err != nil {
		return Campaign{}, false, fmt.Errorf("campaigns: get %s: %w", id, err)
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	if err := jsoncodec.Unmarshal(commission, &c.Commission); err != nil {
		return Campaign{}, false, fmt.Errorf("campaigns: decode commission: %w", err)
	}
	if err := jsoncodec.Unmarshal(period, &c.Period); err != nil {
		return Campaign{}, false, fmt.Errorf("campaigns: decode period: %w", err)
	}
	if err := jsoncodec.Unmarshal(origin, &c.OriginInfluencer); err != nil {
		return Campaign{}, false, fmt.Errorf("campaigns: decode origin influencer: %w", err)
	}
	c.TargetCategories = categories
	return c, true, nil
}

// Delete marks id deleted, reporting whether a row was actually updated —
// the Campaigns worker treats a re-delivered DeleteCampaign against an
// already-deleted campaign as a no-op success, not an error (idempotent
// compensation, §4.5).
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE campaigns SET active = false, deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.GetDB().ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("campaigns: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("campaigns: delete %s: %w", id, err)
	}
	return n > 0, nil
}
