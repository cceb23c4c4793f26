// Package bus presents the message broker as the small typed API §4.1
// describes: Publish/Subscribe over codec.Envelope, with shared-subscription
// load balancing and an explicit Ack/NackRetry/NackDead handler contract.
// Two adapters implement Bus: Kafka (primary, consumer-group native) and
// AMQP (secondary).
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
)

// Result is what a Subscribe handler returns for a delivered envelope.
type Result int

const (
	// Ack commits the message; it will not be redelivered.
	Ack Result = iota
	// NackRetry leaves the message for redelivery, subject to the adapter's
	// backoff policy.
	NackRetry
	// NackDead routes the message to the dead-letter channel and commits it;
	// it will not be redelivered.
	NackDead
)

func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case NackRetry:
		return "nack_retry"
	case NackDead:
		return "nack_dead"
	default:
		return "unknown"
	}
}

// TransientSendError wraps a publish failure the caller may retry with
// backoff (broker unreachable, timeout, etc.).
type TransientSendError struct {
	Topic string
	Err   error
}

func (e *TransientSendError) Error() string {
	return fmt.Sprintf("bus: transient send error on %s: %v", e.Topic, e.Err)
}

func (e *TransientSendError) Unwrap() error { return e.Err }

// FatalSchemaError marks an envelope that failed to decode. It is never
// retried; the caller routes it to dead-letter and increments an alert
// counter (§4.1).
type FatalSchemaError struct {
	Topic string
	Err   error
}

func (e *FatalSchemaError) Error() string {
	return fmt.Sprintf("bus: fatal schema error on %s: %v", e.Topic, e.Err)
}

func (e *FatalSchemaError) Unwrap() error { return e.Err }

// Handler processes one delivered envelope and reports how the adapter
// should resolve it.
type Handler func(ctx context.Context, env codec.Envelope) Result

// Subscription is a live shared-subscription consumer. Close drains
// in-flight handler calls before returning, per §4.1's cancellation
// contract.
type Subscription interface {
	Close(ctx context.Context) error
}

// Bus is the port every worker, the coordinator, and the BFF program
// against; kafkaBus and amqpBus are the only two implementations.
type Bus interface {
	// Publish sends env on topic. Errors are always *TransientSendError or
	// *FatalSchemaError so callers can branch with errors.As.
	Publish(ctx context.Context, topic string, env codec.Envelope) error

	// Subscribe installs a shared-subscription consumer: instances sharing
	// group receive disjoint subsets of topic. Decode failures are routed
	// to dead-letter directly by the adapter; handler only sees envelopes
	// that decoded cleanly.
	Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error)

	// Close releases all adapter resources (writers, readers, connections).
	Close() error
}

var errUnknownBusKind = errors.New("bus: unknown kind (want \"kafka\" or \"amqp\")")
