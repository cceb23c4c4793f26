// Package campaigns is the Campaigns service worker: it owns the
// RegisterCampaign/DeleteCampaign commands, the campaign projection, and
// the CampaignCreated/CampaignDeleted/CampaignError events (§4.4).
package campaigns

import (
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
)

// Campaign is the local projection the service persists.
type Campaign struct {
	ID               string
	Name             string
	Description      string
	Commission       codec.Commission
	Period           codec.Period
	TargetCategories []string
	OriginInfluencer codec.OriginInfluencer
	AutoActivate     bool
	Active           bool
	CreatedAt        time.Time
	DeletedAt        *time.Time
}
