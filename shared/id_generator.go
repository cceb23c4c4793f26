// Package shared holds the small pieces of infrastructure more than one
// saga package needs but that don't belong to any single domain.
package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IDGenerator mints the coordinator's own entity ids — campaignID and
// contractID — the way the original influencer platform did: a salted
// hash rather than a bare UUID, so an id also betrays which kind of entity
// it names (§4.5 rows 1 and 2 build exactly one of these per saga step).
// message_id and correlation_id stay on uuid.NewString (see
// internal/correlation), since those are wire-protocol ids, not domain
// entity ids.
type IDGenerator struct {
	prefixes map[string]string
	lengths  map[string]int
}

// NewIDGenerator creates a new ID generator with standardized configuration.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		prefixes: map[string]string{
			"campaign": "campaign",
			"contract": "contract",
		},
		lengths: map[string]int{
			"campaign": 24,
			"contract": 24,
		},
	}
}

// GenerateID creates a standardized ID with the given type.
func (g *IDGenerator) GenerateID(idType string, additionalData ...string) string {
	prefix, exists := g.prefixes[idType]
	if !exists {
		prefix = "id"
	}

	length, exists := g.lengths[idType]
	if !exists {
		length = 24
	}

	input := fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), idType)
	for _, data := range additionalData {
		input += "_" + data
	}

	hash := sha256.Sum256([]byte(input))
	hashStr := hex.EncodeToString(hash[:])

	if len(hashStr) > length {
		hashStr = hashStr[:length]
	} else if len(hashStr) < length {
		additional := sha256.Sum256([]byte(hashStr + time.Now().String()))
		additionalStr := hex.EncodeToString(additional[:])
		hashStr = hashStr + additionalStr[:length-len(hashStr)]
	}

	return prefix + "_" + hashStr
}

// GenerateCampaignID creates a campaign ID, salted with the triggering
// influencer id so two sagas for the same influencer never collide.
func (g *IDGenerator) GenerateCampaignID(influencerID string) string {
	return g.GenerateID("campaign", influencerID)
}

// GenerateContractID creates a contract ID, salted with the campaign id it
// belongs to.
func (g *IDGenerator) GenerateContractID(campaignID string) string {
	return g.GenerateID("contract", campaignID)
}

// ValidateID checks if an ID follows the expected format.
func (g *IDGenerator) ValidateID(id, expectedType string) bool {
	expectedPrefix, exists := g.prefixes[expectedType]
	if !exists {
		return false
	}

	expectedLength, exists := g.lengths[expectedType]
	if !exists {
		return false
	}

	if len(id) <= len(expectedPrefix)+1 {
		return false
	}

	if id[:len(expectedPrefix)+1] != expectedPrefix+"_" {
		return false
	}

	expectedTotalLength := len(expectedPrefix) + 1 + expectedLength
	return len(id) == expectedTotalLength
}
