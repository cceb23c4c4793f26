// Package influencers is the Influencers service worker: it owns the
// CreateInfluencer command, the influencer projection, and the
// InfluencerRegistered event that triggers a saga (§4.4).
package influencers

import "time"

// Influencer is the local projection the service persists. The saga never
// reads this table directly; it only trusts InfluencerRegistered (§3
// "Domain-entity projections... treated as external state").
type Influencer struct {
	ID           string
	Name         string
	Email        string
	Categories   []string
	Bio          string
	AvatarURL    string
	SocialHandle string
	RegisteredAt time.Time
}
