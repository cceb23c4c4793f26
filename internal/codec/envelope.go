// Package codec defines the stable wire schema shared by every command and
// event that crosses the message bus: a typed envelope plus one payload
// struct per kind from §4.3. Encoding goes through jsoniter so the wire
// format matches encoding/json byte-for-byte while paying its lower
// allocation cost.
package codec

import (
	stdjson "encoding/json"
	"fmt"
	"strconv"
	"time"

	json "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// RawMessage defers payload decoding the same way encoding/json.RawMessage
// does; jsoniter's ConfigCompatibleWithStandardLibrary marshals it identically.
type RawMessage = stdjson.RawMessage

// UnixMilliTime wraps time.Time to force the wire representation §3 chooses
// for emitted_at/ingested_at: a JSON number of milliseconds since the Unix
// epoch, not an RFC3339 string. Plain time.Time defers to its own
// MarshalJSON even under jsoniter's ConfigCompatibleWithStandardLibrary, so
// the envelope needs its own type to get unix-ms on the wire.
type UnixMilliTime time.Time

// NewUnixMilliTime wraps t for use as an envelope timestamp field.
func NewUnixMilliTime(t time.Time) UnixMilliTime {
	return UnixMilliTime(t)
}

// Time unwraps t back to a time.Time.
func (t UnixMilliTime) Time() time.Time {
	return time.Time(t)
}

// MarshalJSON encodes t as a bare integer count of milliseconds since the epoch.
func (t UnixMilliTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(t).UnixMilli(), 10)), nil
}

// UnmarshalJSON decodes a unix-ms integer into t.
func (t *UnixMilliTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*t = UnixMilliTime(time.Time{})
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("codec: unix ms timestamp: %w", err)
	}
	*t = UnixMilliTime(time.UnixMilli(ms).UTC())
	return nil
}

// Kind enumerates the message types the saga exchanges. It is never
// inferred from payload shape; producers set it explicitly.
type Kind string

const (
	KindCreateInfluencer    Kind = "CreateInfluencer"
	KindInfluencerRegistered Kind = "InfluencerRegistered"
	KindRegisterCampaign    Kind = "RegisterCampaign"
	KindCampaignCreated     Kind = "CampaignCreated"
	KindDeleteCampaign      Kind = "DeleteCampaign"
	KindCampaignDeleted     Kind = "CampaignDeleted"
	KindCreateContract      Kind = "CreateContract"
	KindContractCreated     Kind = "ContractCreated"
	KindContractError       Kind = "ContractError"
	KindCampaignError       Kind = "CampaignError"
)

// SpecVersion is the current wire schema version. Payload fields may only
// be added, never removed or repurposed, without bumping this.
const SpecVersion = "1"

// Envelope wraps every command and event on the bus (§3 "Command / Event
// envelopes"). Payload is kept as raw bytes so the bus and saga log never
// need to know the shape of a given kind; only the codec and the consuming
// worker decode it.
type Envelope struct {
	MessageID     string        `json:"message_id"`
	CorrelationID string        `json:"correlation_id"`
	Type          Kind          `json:"type"`
	SpecVersion   string        `json:"spec_version"`
	EmittedAt     UnixMilliTime `json:"emitted_at"`
	IngestedAt    UnixMilliTime `json:"ingested_at"`
	SourceService string        `json:"source_service"`
	Payload       RawMessage    `json:"payload"`
}

// NewEnvelope builds an envelope carrying payload marshaled from v. messageID
// must be fresh per call; correlationID is propagated unchanged across a saga.
func NewEnvelope(messageID, correlationID string, kind Kind, sourceService string, emittedAt time.Time, v interface{}) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: marshal %s payload: %w", kind, err)
	}
	return Envelope{
		MessageID:     messageID,
		CorrelationID: correlationID,
		Type:          kind,
		SpecVersion:   SpecVersion,
		EmittedAt:     NewUnixMilliTime(emittedAt),
		SourceService: sourceService,
		Payload:       raw,
	}, nil
}

// Marshal serializes the envelope for transport.
func Marshal(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an envelope off the wire. A failure here is always a
// FatalSchemaError (§4.1): the caller routes to dead-letter, never retries.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}
	return e, nil
}

// DecodePayload unmarshals the envelope's payload into v. Callers pass the
// struct matching e.Type.
func DecodePayload(e Envelope, v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("codec: decode %s payload: %w", e.Type, err)
	}
	return nil
}
