package influencers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/repository"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema is the DDL for the influencers projection table.
const Schema = `
CREATE TABLE IF NOT EXISTS influencers (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	categories    TEXT[] NOT NULL DEFAULT '{}',
	bio           TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	social_handle TEXT NOT NULL DEFAULT '',
	registered_at TIMESTAMPTZ NOT NULL
);
`

// ErrAlreadyExists is returned by Create when id has already been applied —
// a re-delivered CreateInfluencer command (§4.4 idempotent application).
var ErrAlreadyExists = errors.New("influencers: already exists")

// Repository persists the influencer projection.
type Repository struct {
	*repository.BaseRepository
}

// NewRepository builds a Repository over db.
func NewRepository(db *sql.DB, log *zap.Logger) *Repository {
	return &Repository{BaseRepository: repository.NewBaseRepository(db, log)}
}

// Create inserts inf. Returns ErrAlreadyExists on a duplicate id rather than
// a raw constraint-violation error, so callers can branch without sniffing
// driver error codes.
func (r *Repository) Create(ctx context.Context, inf Influencer) error {
	const q = `
		INSERT INTO influencers (id, name, email, categories, bio, avatar_url, social_handle, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.GetDB().ExecContext(ctx, q, inf.ID, inf.Name, inf.Email, pq.Array(inf.Categories),
		inf.Bio, inf.AvatarURL, inf.SocialHandle, inf.RegisteredAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("influencers: create %s: %w", inf.ID, err)
	}
	return nil
}

// Get looks up an influencer by id.
func (r *Repository) Get(ctx context.Context, id string) (Influencer, bool, error) {
	const q = `SELECT id, name, email, categories, bio, avatar_url, social_handle, registered_at FROM influencers WHERE id = $1`

	var inf Influencer
	var categories pq.StringArray
	row := r.GetDB().QueryRowContext(ctx, q, id)
	err := row.Scan(&inf.ID, &inf.Name, &inf.Email, &categories, &inf.Bio, &inf.AvatarURL, &inf.SocialHandle, &inf.RegisteredAt)
	if err == sql.ErrNoRows {
		return Influencer{}, false, nil
	}
	if err != nil {
		return Influencer{}, false, fmt.Errorf("influencers: get %s: %w", id, err)
	}
	inf.Categories = categories
	return inf, true, nil
}
