package contracts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/repository"
	jsoncodec "github.com/alpespartners/saga-orchestrator/pkg/json"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema is the DDL for the contracts projection table. The unique index on
// (influencer_id, campaign_id) enforces "one active contract per influencer
// per campaign" (§4.4, §8) at the store boundary.
const Schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id               TEXT PRIMARY KEY,
	influencer_id    TEXT NOT NULL,
	influencer_name  TEXT NOT NULL,
	influencer_email TEXT NOT NULL,
	campaign_id      TEXT NOT NULL,
	campaign_name    TEXT NOT NULL,
	categories       TEXT[] NOT NULL DEFAULT '{}',
	description      TEXT NOT NULL DEFAULT '',
	base_amount      TEXT NOT NULL,
	currency         TEXT NOT NULL,
	period           JSONB NOT NULL,
	deliverables     TEXT[] NOT NULL DEFAULT '{}',
	contract_type    TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (influencer_id, campaign_id)
);
`

// ErrDuplicateActive is returned by Create when an influencer already has a
// contract against this campaign — the business rule a ContractError event
// reports (§4.4).
var ErrDuplicateActive = errors.New("contracts: already active for influencer and campaign")

// ErrAlreadyExists mirrors the other services' idempotent-create contract.
var ErrAlreadyExists = errors.New("contracts: already exists")

// Repository persists the contract projection.
type Repository struct {
	*repository.BaseRepository
}

// NewRepository builds a Repository over db.
func NewRepository(db *sql.DB, log *zap.Logger) *Repository {
	return &Repository{BaseRepository: repository.NewBaseRepository(db, log)}
}

func (r *Repository) Create(ctx context.Context, c Contract) error {
	period, err := jsoncodec.Marshal(c.Period)
	if err != nil {
		return fmt.Errorf("contracts: marshal period: %w", err)
	}

	const q = `
		INSERT INTO contracts (id, influencer_id, influencer_name, influencer_email, campaign_id, campaign_name,
			categories, description, base_amount, currency, period, deliverables, contract_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.GetDB().ExecContext(ctx, q, c.ID, c.InfluencerID, c.InfluencerName, c.InfluencerEmail,
		c.CampaignID, c.CampaignName, pq.Array(c.Categories), c.Description, c.BaseAmount, c.Currency,
		period, pq.Array(c.Deliverables), string(c.ContractType), c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "contracts_influencer_id_campaign_id_key" {
				return ErrDuplicateActive
			}
			return ErrAlreadyExists
		}
		return fmt.Errorf("contracts: create %s: %w", c.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Contract, bool, error) {
	const q = `
		SELECT id, influencer_id, influencer_name, influencer_email, campaign_id, campaign_name,
			categories, description, base_amount, currency, period, deliverables, contract_type, created_at
		FROM contracts WHERE id = $1`

	var c Contract
	var categories, deliverables pq.StringArray
	var period []byte
	var contractType string
	row := r.GetDB().QueryRowContext(ctx, q, id)
	err := row.Scan(&c.ID, &c.InfluencerID, &c.InfluencerName, &c.InfluencerEmail, &c.CampaignID, &c.CampaignName,
		&categories, &c.Description, &c.BaseAmount, &c.Currency, &period, &deliverables, &contractType, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return Contract{}, false, nil
	}
	if err != nil {
		return Contract{}, false, fmt.Errorf("contracts: get %s: %w", id, err)
	}
	if err := jsoncodec.Unmarshal(period, &c.Period); err != nil {
		return Contract{}, false, fmt.Errorf("contracts: decode period: %w", err)
	}
	c.Categories = categories
	c.Deliverables = deliverables
	c.ContractType = codec.ContractType(contractType)
	return c, true, nil
}
