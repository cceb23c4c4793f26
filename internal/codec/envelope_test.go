package codec

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripsPayload(t *testing.T) {
	payload := CreateInfluencer{
		ID:         "inf-1",
		Name:       "Ana",
		Email:      "ana@x.io",
		Categories: []string{"moda", "lifestyle"},
	}

	env, err := NewEnvelope("msg-1", "corr-1", KindCreateInfluencer, "bff", time.Now().UTC(), payload)
	require.NoError(t, err)

	wire, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(wire)
	require.NoError(t, err)
	require.Equal(t, env.MessageID, decoded.MessageID)
	require.Equal(t, env.CorrelationID, decoded.CorrelationID)
	require.Equal(t, KindCreateInfluencer, decoded.Type)

	var got CreateInfluencer
	require.NoError(t, DecodePayload(decoded, &got))
	require.Equal(t, payload, got)
}

func TestUnmarshalRejectsMalformedEnvelope(t *testing.T) {
	_, err := Unmarshal([]byte(`{"message_id": `))
	require.Error(t, err)
}

func TestEnvelopeTimestampsAreUnixMillisOnTheWire(t *testing.T) {
	emitted := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	env, err := NewEnvelope("msg-1", "corr-1", KindCreateInfluencer, "bff", emitted, CreateInfluencer{ID: "inf-1"})
	require.NoError(t, err)
	env.IngestedAt = NewUnixMilliTime(emitted.Add(time.Second))

	wire, err := Marshal(env)
	require.NoError(t, err)
	require.Contains(t, string(wire), `"emitted_at":`+strconv.FormatInt(emitted.UnixMilli(), 10))
	require.NotContains(t, string(wire), emitted.Format(time.RFC3339))

	decoded, err := Unmarshal(wire)
	require.NoError(t, err)
	require.True(t, emitted.Equal(decoded.EmittedAt.Time()))
	require.True(t, emitted.Add(time.Second).Equal(decoded.IngestedAt.Time()))
}

func TestDecodePayloadAcceptsMismatchedShape(t *testing.T) {
	env, err := NewEnvelope("msg-1", "corr-1", KindCampaignCreated, "campaigns", time.Now().UTC(), CampaignCreated{
		CampaignID: "c1",
		Name:       "spring-push",
		Commission: Commission{Type: CommissionCPA, Amount: "10.00", Currency: "USD"},
		Period:     Period{Start: time.Now().UTC()},
	})
	require.NoError(t, err)

	var got ContractCreated
	require.NoError(t, DecodePayload(env, &got))
	require.Empty(t, got.ContractID)
}
