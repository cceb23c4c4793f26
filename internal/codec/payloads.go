package codec

import "time"

// CommissionType enumerates how a campaign's commission is computed.
type CommissionType string

const (
	CommissionCPA CommissionType = "CPA"
	CommissionCPL CommissionType = "CPL"
	CommissionCPC CommissionType = "CPC"
)

// ContractType enumerates the shapes a contract between an influencer and a
// campaign can take.
type ContractType string

const (
	ContractOneOff       ContractType = "one_off"
	ContractTemporary    ContractType = "temporary"
	ContractExclusive    ContractType = "exclusive"
	ContractCollaboration ContractType = "collaboration"
)

// Commission describes how a campaign pays out. Amount is decimal with a
// currency code; it is never a bare float used for arithmetic across services.
type Commission struct {
	Type     CommissionType `json:"type"`
	Amount   string         `json:"amount"`
	Currency string         `json:"currency"`
}

// Period bounds a campaign or contract in time. End is optional: an open
// period has no end.
type Period struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// OriginInfluencer carries the minimal identity of the influencer a campaign
// or contract traces back to, so downstream services never need to look it
// up themselves.
type OriginInfluencer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateInfluencer is the BFF → Influencers admission command (§4.7).
type CreateInfluencer struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Categories []string `json:"categories"`

	// Optional profile fields, forward-compatible.
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	SocialHandle string `json:"social_handle,omitempty"`
}

// InfluencerRegistered is emitted by the Influencers worker once the
// influencer projection is persisted. It is the saga's trigger event.
type InfluencerRegistered struct {
	InfluencerID string    `json:"influencer_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Categories   []string  `json:"categories"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterCampaign is the coordinator's forward command to Campaigns at Step1.
type RegisterCampaign struct {
	CampaignID       string           `json:"campaign_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Commission       Commission       `json:"commission"`
	Period           Period           `json:"period"`
	TargetCategories []string         `json:"target_categories"`
	OriginInfluencer OriginInfluencer `json:"origin_influencer"`
	AutoActivate     bool             `json:"auto_activate"`
}

// CampaignCreated is emitted by the Campaigns worker once the campaign
// projection is persisted.
type CampaignCreated struct {
	CampaignID       string           `json:"campaign_id"`
	Name             string           `json:"name"`
	Commission       Commission       `json:"commission"`
	Period           Period           `json:"period"`
	TargetCategories []string         `json:"target_categories"`
	OriginInfluencer OriginInfluencer `json:"origin_influencer"`
}

// CampaignError is the Campaigns worker's business-rule rejection event
// (§4.4, §4.5 "Campaign business-error for our saga"). It rides the same
// events-campaigns topic as CampaignCreated; the coordinator distinguishes
// the two by Kind, not by a separate channel.
type CampaignError struct {
	CampaignID       string `json:"campaign_id"`
	OriginInfluencerID string `json:"origin_influencer_id"`
	ErrorKind        string `json:"error_kind"`
	ErrorDetail      string `json:"error_detail"`
}

// DeleteCampaign is the coordinator's compensation command issued when a
// later step fails.
type DeleteCampaign struct {
	CampaignID   string `json:"campaign_id"`
	InfluencerID string `json:"influencer_id,omitempty"`
	Reason       string `json:"reason"`
}

// CampaignDeleted is emitted once a compensating delete completes.
type CampaignDeleted struct {
	CampaignID   string    `json:"campaign_id"`
	InfluencerID string    `json:"influencer_id,omitempty"`
	Reason       string    `json:"reason"`
	DeletedAt    time.Time `json:"deleted_at"`
}

// CreateContract is the coordinator's forward command to Contracts at Step2.
type CreateContract struct {
	ContractID     string       `json:"contract_id"`
	InfluencerID   string       `json:"influencer_id"`
	InfluencerName string       `json:"influencer_name"`
	InfluencerEmail string      `json:"influencer_email"`
	CampaignID     string       `json:"campaign_id"`
	CampaignName   string       `json:"campaign_name"`
	Categories     []string     `json:"categories"`
	Description    string       `json:"description,omitempty"`
	BaseAmount     string       `json:"base_amount"`
	Currency       string       `json:"currency"`
	Period         Period       `json:"period"`
	Deliverables   []string     `json:"deliverables,omitempty"`
	ContractType   ContractType `json:"contract_type"`
}

// ContractCreated is emitted once the contract projection is persisted.
type ContractCreated struct {
	ContractID   string       `json:"contract_id"`
	InfluencerID string       `json:"influencer_id"`
	CampaignID   string       `json:"campaign_id"`
	TotalAmount  string       `json:"total_amount"`
	Currency     string       `json:"currency"`
	ContractType ContractType `json:"contract_type"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ContractError is the explicit business/infra failure event the Contracts
// worker emits instead of nacking (§4.4): it converts an internal fault into
// a first-class saga signal the coordinator can compensate on.
type ContractError struct {
	ContractID   string `json:"contract_id"`
	InfluencerID string `json:"influencer_id"`
	CampaignID   string `json:"campaign_id"`
	ErrorKind    string `json:"error_kind"`
	ErrorDetail  string `json:"error_detail"`
}
