// Package services hosts the three service workers (Influencers, Campaigns,
// Contracts) that are the saga's hands and eyes (C4): each subscribes to its
// command topic, applies the command idempotently to its own domain store,
// and emits a success or business-error event carrying the same
// correlation_id it received (§4.4).
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/correlation"
	"github.com/alpespartners/saga-orchestrator/pkg/contextx"
	"github.com/alpespartners/saga-orchestrator/pkg/graceful"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

// Outcome is what Apply decides to emit for one applied command. Env
// carries the same CorrelationID as the inbound command; it may be a
// success event or a business-error event (ContractError, CampaignError) —
// both are "Ok" outcomes from the worker's perspective (§9: business-rule
// violations are an explicit result variant, never an error returned up to
// the bus adapter).
type Outcome struct {
	Topic string
	Env   codec.Envelope
}

// ApplyFunc applies one decoded command to the service's domain store. A
// non-nil error must be a *graceful.ContextError; CodeTransient is retried,
// CodeDecode is dead-lettered, anything else is logged and nacked for retry.
// Business-rule violations are not represented as errors: ApplyFunc returns
// a nil error and an Outcome wrapping the error event instead.
type ApplyFunc func(ctx context.Context, env codec.Envelope) (*Outcome, error)

// CommandWorker wraps a Bus subscription with the idempotent-application
// shape every service worker shares (§4.4 state machine: Received →
// Decoded → Validated → Applied(+event emitted) → Acked).
type CommandWorker struct {
	bus   bus.Bus
	guard *correlation.Guard
	log   logger.Logger
}

// NewCommandWorker builds a CommandWorker.
func NewCommandWorker(b bus.Bus, guard *correlation.Guard, log logger.Logger) *CommandWorker {
	return &CommandWorker{bus: b, guard: guard, log: log}
}

// Subscribe installs apply as the handler for topic/group, wrapping it with
// the message_id idempotency guard (§4.4 "checked against the local store
// for prior application using its message_id") and outcome publishing.
func (w *CommandWorker) Subscribe(ctx context.Context, topic, group string, apply ApplyFunc) (bus.Subscription, error) {
	return w.bus.Subscribe(ctx, topic, group, func(ctx context.Context, env codec.Envelope) bus.Result {
		return w.handle(ctx, env, apply)
	})
}

func (w *CommandWorker) handle(ctx context.Context, env codec.Envelope, apply ApplyFunc) bus.Result {
	ctx = contextx.WithCorrelationID(ctx, env.CorrelationID)

	seen, err := w.guard.SeenMessage(ctx, env.MessageID)
	if err != nil {
		w.log.Warn("services: idempotency guard unavailable, proceeding on store-level dedup only",
			zap.String("message_id", env.MessageID), zap.Error(err))
	} else if seen {
		// Already applied; re-delivery of an already-applied command
		// produces no new store mutation and no new emitted event (§8).
		return bus.Ack
	}

	outcome, err := apply(ctx, env)
	if err != nil {
		return w.classify(ctx, env, err)
	}

	if outcome != nil {
		if pubErr := w.bus.Publish(ctx, outcome.Topic, outcome.Env); pubErr != nil {
			w.log.Warn("services: publish outcome failed, command will be redelivered",
				zap.String("message_id", env.MessageID), zap.Error(pubErr))
			return bus.NackRetry
		}
	}
	return bus.Ack
}

func (w *CommandWorker) classify(ctx context.Context, env codec.Envelope, err error) bus.Result {
	var ce *graceful.ContextError
	if errors.As(err, &ce) {
		switch ce.Code {
		case graceful.CodeTransient:
			graceful.LogAndWrap(ctx, w.log.GetZapLogger(), ce.Code, "services: transient apply failure, will retry", err,
				zap.String("message_id", env.MessageID))
			return bus.NackRetry
		case graceful.CodeDecode:
			graceful.LogAndWrap(ctx, w.log.GetZapLogger(), ce.Code, "services: malformed command payload, dead-lettering", err,
				zap.String("message_id", env.MessageID))
			return bus.NackDead
		}
	}
	graceful.LogAndWrap(ctx, w.log.GetZapLogger(), graceful.CodeInternal, "services: apply failed with unclassified error, will retry", err,
		zap.String("message_id", env.MessageID))
	return bus.NackRetry
}

// NewOutcomeEnvelope builds the envelope for an emitted event, propagating
// correlationID unchanged (§4.6) with a fresh message_id (§3).
func NewOutcomeEnvelope(correlationID string, kind codec.Kind, sourceService string, payload interface{}) (codec.Envelope, error) {
	env, err := codec.NewEnvelope(correlation.NewMessageID(), correlationID, kind, sourceService, time.Now().UTC(), payload)
	if err != nil {
		return codec.Envelope{}, fmt.Errorf("services: build %s envelope: %w", kind, err)
	}
	return env, nil
}
