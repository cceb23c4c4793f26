package campaigns

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
// coordinator's TopicCampaignCommands/TopicCampaignEvents/TopicCampaignDeletion.
const (
	TopicCommands = "commands-campaigns"
	TopicEvents   = "events-campaigns"
	TopicDeletion = "events-campaigns-deletion"
	Group         = "campaigns"
)

// Worker is the Campaigns service's command consumer. It is the saga's only
// two-command service: it both registers campaigns forward and deletes them
// as a compensation (§4.4, §4.5).
type Worker struct {
	repo *Repository
	cw   *services.CommandWorker
	log  logger.Logger
}

// NewWorker builds a Worker.
func NewWorker(repo *Repository, b bus.Bus, guard *correlation.Guard, log logger.Logger) *Worker {
	return &Worker{repo: repo, cw: services.NewCommandWorker(b, guard, log), log: log}
}

// Start subscribes to both TopicCommands and TopicDeletion under Group.
func (w *Worker) Start(ctx context.Context) ([]bus.Subscription, error) {
	registerSub, err := w.cw.Subscribe(ctx, TopicCommands, Group, w.applyRegister)
	if err != nil {
		return nil, err
	}
	deleteSub, err := w.cw.Subscribe(ctx, TopicDeletion, Group, w.applyDelete)
	if err != nil {
		return nil, err
	}
	return []bus.Subscription{registerSub, deleteSub}, nil
}

func (w *Worker) applyRegister(ctx context.Context, env codec.Envelope) (*services.Outcome, error) {
	var cmd codec.RegisterCampaign
	if err := codec.DecodePayload(env, &cmd); err != nil {
		return nil, graceful.WrapErr(graceful.CodeDecode, "decode RegisterCampaign", err, nil)
	}

	c := Campaign{
		ID:               cmd.CampaignID,
		Name:             cmd.Name,
		Description:      cmd.Description,
		Commission:       cmd.Commission,
		Period:           cmd.Period,
		TargetCategories: cmd.TargetCategories,
		OriginInfluencer: cmd.OriginInfluencer,
		AutoActivate:     cmd.AutoActivate,
		Active:           cmd.AutoActivate,
		CreatedAt:        time.Now().UTC(),
	}

	if err := w.repo.Create(ctx, c); err != nil {
		switch err {
		case ErrDuplicateName:
			payload := codec.CampaignError{
				CampaignID:         cmd.CampaignID,
				OriginInfluencerID: cmd.OriginInfluencer.ID,
				ErrorKind:          "duplicate_name",
				ErrorDetail:        "a campaign with this name already exists",
			}
			outEnv, buildErr := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindCampaignError, "campaigns", payload)
			if buildErr != nil {
				return nil, graceful.WrapErr(graceful.CodeInternal, "build CampaignError envelope", buildErr, nil)
			}
			return &services.Outcome{Topic: TopicEvents, Env: outEnv}, nil
		case ErrAlreadyExists:
			existing, ok, getErr := w.repo.Get(ctx, cmd.CampaignID)
			if getErr != nil {
				return nil, graceful.WrapErr(graceful.CodeTransient, "reload existing campaign", getErr, nil)
			}
			if !ok {
				return nil, graceful.WrapErr(graceful.CodeInternal, "campaign vanished after duplicate-key create", nil, nil)
			}
			c = existing
		default:
			return nil, graceful.WrapErr(graceful.CodeTransient, "persist campaign", err, nil)
		}
	}

	payload := codec.CampaignCreated{
		CampaignID:       c.ID,
		Name:             c.Name,
		Commission:       c.Commission,
		Period:           c.Period,
		TargetCategories: c.TargetCategories,
		OriginInfluencer: c.OriginInfluencer,
	}
	outEnv, err := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindCampaignCreated, "campaigns", payload)
	if err != nil {
		return nil, graceful.WrapErr(graceful.CodeInternal, "build CampaignCreated envelope", err, nil)
	}
	return &services.Outcome{Topic: TopicEvents, Env: outEnv}, nil
}

func (w *Worker) applyDelete(ctx context.Context, env codec.Envelope) (*services.Outcome, error) {
	var cmd codec.DeleteCampaign
	if err := codec.DecodePayload(env, &cmd); err != nil {
		return nil, graceful.WrapErr(graceful.CodeDecode, "decode DeleteCampaign", err, nil)
	}

	if _, err := w.repo.Delete(ctx, cmd.CampaignID); err != nil {
		return nil, graceful.WrapErr(graceful.CodeTransient, "delete campaign", err, nil)
	}

	payload := codec.CampaignDeleted{
		CampaignID:   cmd.CampaignID,
		InfluencerID: cmd.InfluencerID,
		Reason:       cmd.Reason,
		DeletedAt:    time.Now().UTC(),
	}
	outEnv, err := services.NewOutcomeEnvelope(env.CorrelationID, codec.KindCampaignDeleted, "campaigns", payload)
	if err != nil {
		return nil, graceful.WrapErr(graceful.CodeInternal, "build CampaignDeleted envelope", err, nil)
	}
	return &services.Outcome{Topic: TopicEvents, Env: outEnv}, nil
}
