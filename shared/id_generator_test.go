package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCampaignID(t *testing.T) {
	g := NewIDGenerator()

	id1 := g.GenerateCampaignID("inf-1")
	id2 := g.GenerateCampaignID("inf-1")

	assert.True(t, g.ValidateID(id1, "campaign"))
	assert.True(t, g.ValidateID(id2, "campaign"))
	assert.NotEqual(t, id1, id2, "ids should not collide even for the same influencer")
}

func TestGenerateContractID(t *testing.T) {
	g := NewIDGenerator()

	id := g.GenerateContractID("campaign-1")
	assert.True(t, g.ValidateID(id, "contract"))
	assert.False(t, g.ValidateID(id, "campaign"), "a contract id must not also validate as a campaign id")
}

func TestValidateID(t *testing.T) {
	g := NewIDGenerator()

	tests := []struct {
		name string
		id   string
		typ  string
		want bool
	}{
		{"valid campaign id", g.GenerateCampaignID("x"), "campaign", true},
		{"unknown type", "anything", "subscription", false},
		{"missing prefix", "deadbeef", "campaign", false},
		{"wrong prefix", "contract_" + g.GenerateCampaignID("x")[len("campaign_"):], "campaign", false},
		{"empty string", "", "campaign", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ValidateID(tt.id, tt.typ))
		})
	}
}
