package influencers

import (
	"context"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/correlation"
	"github.com/alpespartners/saga-orchestrator/internal/services"
	"github.com/alpespartners/saga-orchestrator/pkg/graceful"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// Topics this worker owns (§6).
const (
	TopicCommands = "events-create-influencer"
	TopicEvents   = "events-influencers"
	Group         = "influencers"
)

// Worker is the Influencers service's command consumer.
type Worker struct {
	repo *Repository
	cw   *services.CommandWorker
	log  logger.Logger
}

// NewWorker builds a Worker.
func NewWorker(repo *Repository, b bus.Bus, guard *correlation.Guard, log logger.Logger) *Worker {
	return &Worker{repo: repo, cw: services.NewCommandWorker(b, guard, log), log: log}
}

// Start subscribes to TopicCommands under Group.
func (w *Worker) Start(ctx context.Context) (bus.Subscription, error) {
	return w.cw.Subscribe(ctx, TopicCommands, Group, w.apply)
}

func (w *Worker) apply(ctx context.Context, env codec.Envelope) (*services.Outcome, error) {
	var cmd codec.CreateInfluencer
	if err := codec.DecodePayload(env, &cmd); err != nil {
		return nil, graceful.WrapErr(graceful.CodeDecode, "decode CreateInfluencer", err, nil)
	}

	inf := Influencer{
		ID:           cmd.ID,
		Name:         cmd.Name,
		Email:        cmd.Email,
		Categories:   cmd.Categories,
		Bio:          cmd.Bio,
		AvatarURL:    cmd.AvatarURL,
		SocialHandle: cmd.SocialHandle,
		RegisteredAt: time.Now().UTC(),
	}

	if err := w.repo.Create(ctx, inf); err != nil {
		if err == ErrAlreadyExists {
			// Natural-key dedup beneath the message_id guard (§4.4): the
			// command was applied before under a different delivery.
			existing, ok, getErr := w.repo.Get(ctx, cmd.ID)
			if getErr != nil {
				return nil, graceful.WrapErr(graceful.CodeTransient, "reload existing influencer", getErr, nil)
			}
			if !ok {
				return nil, graceful.WrapErr(graceful.CodeInternal, "influencer vanished after duplicate-key create", nil, nil)
			}
			inf = existing
		} else {
			return nil, graceful.WrapErr(graceful.CodeTransient, "persist influencer", err, nil)
		}
	}

	payload := codec.InfluencerRegistered{
		InfluencerID: inf.ID,
		Name:         inf.Name,
		Email:        inf.Email,
		Categories:   inf.Categories,
		RegisteredAt: inf.RegisteredAt,
	}
	outEnv, err := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindInfluencerRegistered, "influencers", payload)
	if err != nil {
		return nil, graceful.WrapErr(graceful.CodeInternal, "build InfluencerRegistered envelope", err, nil)
	}
	return &services.Outcome{Topic: TopicEvents, Env: outEnv}, nil
}
