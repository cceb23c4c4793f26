package contracts

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

// Topics this worker owns (§6). The literal values must match the
// coordinator's TopicContractCommands/TopicContractEvents/TopicContractErrorEvents.
const (
	TopicCommands    = "commands-contracts"
	TopicEvents      = "events-contracts"
	TopicErrorEvents = "events-contracts-error"
	Group            = "contracts"
)

// Worker is the Contracts service's command consumer.
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
	var cmd codec.CreateContract
	if err := codec.DecodePayload(env, &cmd); err != nil {
		return nil, graceful.WrapErr(graceful.CodeDecode, "decode CreateContract", err, nil)
	}

	c := Contract{
		ID:              cmd.ContractID,
		InfluencerID:    cmd.InfluencerID,
		InfluencerName:  cmd.InfluencerName,
		InfluencerEmail: cmd.InfluencerEmail,
		CampaignID:      cmd.CampaignID,
		CampaignName:    cmd.CampaignName,
		Categories:      cmd.Categories,
		Description:     cmd.Description,
		BaseAmount:      cmd.BaseAmount,
		Currency:        cmd.Currency,
		Period:          cmd.Period,
		Deliverables:    cmd.Deliverables,
		ContractType:    cmd.ContractType,
		CreatedAt:       time.Now().UTC(),
	}

	if err := w.repo.Create(ctx, c); err != nil {
		switch err {
		case ErrDuplicateActive:
			payload := codec.ContractError{
				ContractID:   cmd.ContractID,
				InfluencerID: cmd.InfluencerID,
				CampaignID:   cmd.CampaignID,
				ErrorKind:    "duplicate_active_contract",
				ErrorDetail:  "influencer already has an active contract for this campaign",
			}
			outEnv, buildErr := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindContractError, "contracts", payload)
			if buildErr != nil {
				return nil, graceful.WrapErr(graceful.CodeInternal, "build ContractError envelope", buildErr, nil)
			}
			return &services.Outcome{Topic: TopicErrorEvents, Env: outEnv}, nil
		case ErrAlreadyExists:
			existing, ok, getErr := w.repo.Get(ctx, cmd.ContractID)
			if getErr != nil {
				return nil, graceful.WrapErr(graceful.CodeTransient, "reload existing contract", getErr, nil)
			}
			if !ok {
				return nil, graceful.WrapErr(graceful.CodeInternal, "contract vanished after duplicate-key create", nil, nil)
			}
			c = existing
		default:
			return nil, graceful.WrapErr(graceful.CodeTransient, "persist contract", err, nil)
		}
	}

	payload := codec.ContractCreated{
		ContractID:   c.ID,
		InfluencerID: c.InfluencerID,
		CampaignID:   c.CampaignID,
		TotalAmount:  c.BaseAmount,
		Currency:     c.Currency,
		ContractType: c.ContractType,
		CreatedAt:    c.CreatedAt,
	}
	outEnv, err := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindContractCreated, "contracts", payload)
	if err != nil {
		return nil, graceful.WrapErr(graceful.CodeInternal, "build ContractCreated envelope", err, nil)
	}
	return &services.Outcome{Topic: TopicEvents, Env: outEnv}, nil
}
