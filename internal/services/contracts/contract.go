// Package contracts is the Contracts service worker: it owns the
// CreateContract command, the contract projection, and the
// ContractCreated/ContractError events (§4.4). It never participates in
// compensation directly — a failed contract's only remedy is the
// coordinator deleting the campaign upstream (§4.5).
package contracts

import (
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
)

// Contract is the local projection the service persists.
type Contract struct {
	ID              string
	InfluencerID    string
	InfluencerName  string
	InfluencerEmail string
	CampaignID      string
	CampaignName    string
	Categories      []string
	Description     string
	BaseAmount      string
	Currency        string
	Period          codec.Period
	Deliverables    []string
	ContractType    codec.ContractType
	CreatedAt       time.Time
}
