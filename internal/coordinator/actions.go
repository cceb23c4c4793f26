package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/google/uuid"
)

// Defaults synthesized for a RegisterCampaign command the step plan issues
// automatically on influencer registration. The source system let a human
// operator configure campaign economics out of band; this orchestrator has
// no such admission surface (out of scope per §1), so Step1 always proposes
// the same starter terms. Not an open question left to the implementer: a
// deliberate, documented default.
const (
	defaultCommissionType = codec.CommissionCPA
	defaultCommissionAmt  = "10.00"
	defaultCurrency       = "USD"
)

func handleInfluencerRegistered(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if saga.CurrentStep != StepStart {
		// A re-delivered trigger for a saga that has already advanced past
		// Start is a duplicate (§4.6 one-active-saga-per-trigger); no-op.
		return saga, nil
	}

	var evt codec.InfluencerRegistered
	if err := codec.DecodePayload(env, &evt); err != nil {
		return saga, fmt.Errorf("coordinator: decode InfluencerRegistered: %w", err)
	}

	saga.Context[ctxInfluencerID] = evt.InfluencerID
	saga.Context[ctxInfluencerName] = evt.Name
	saga.Context[ctxInfluencerEmail] = evt.Email

	campaignID := c.idGen.GenerateCampaignID(evt.InfluencerID)
	cmd, err := codec.NewEnvelope(uuid.NewString(), saga.CorrelationID, codec.KindRegisterCampaign, "coordinator", env.EmittedAt.Time(), codec.RegisterCampaign{
		CampaignID:       campaignID,
		Name:             fmt.Sprintf("%s starter campaign", evt.Name),
		TargetCategories: evt.Categories,
		Commission: codec.Commission{
			Type:     defaultCommissionType,
			Amount:   defaultCommissionAmt,
			Currency: defaultCurrency,
		},
		Period: codec.Period{Start: evt.RegisteredAt},
		OriginInfluencer: codec.OriginInfluencer{
			ID:    evt.InfluencerID,
			Name:  evt.Name,
			Email: evt.Email,
		},
		AutoActivate: true,
	})
	if err != nil {
		return saga, err
	}

	// §4.5 row 1: "create saga; log Start; build & publish RegisterCampaign".
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Start"), env.Payload, TopicCampaignCommands, &cmd); err != nil {
		return saga, err
	}

	saga.Context[ctxCampaignID] = campaignID
	saga.CurrentStep = StepRegisterCampaign
	saga.Status = StatusRunning
	saga.StepDeadline = env.EmittedAt.Time().Add(c.timeout)
	return saga, nil
}

func handleCampaignCreated(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if !(saga.Status == StatusRunning && saga.CurrentStep == StepRegisterCampaign) {
		return saga, nil
	}

	var evt codec.CampaignCreated
	if err := codec.DecodePayload(env, &evt); err != nil {
		return saga, fmt.Errorf("coordinator: decode CampaignCreated: %w", err)
	}

	saga.Context[ctxCampaignID] = evt.CampaignID
	saga.Context[ctxCampaignName] = evt.Name

	if evt.OriginInfluencer.ID == "" {
		// §4.5: "otherwise terminate as Completed with no-op" — the event
		// carries no influencer to build a contract for.
		if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Step1"), env.Payload, "", nil); err != nil {
			return saga, err
		}
		if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("End"), nil, "", nil); err != nil {
			return saga, err
		}
		saga.Status = StatusCompleted
		saga.CurrentStep = StepEnd
		return saga, nil
	}

	contractID := c.idGen.GenerateContractID(evt.CampaignID)
	cmd, err := codec.NewEnvelope(uuid.NewString(), saga.CorrelationID, codec.KindCreateContract, "coordinator", env.EmittedAt.Time(), codec.CreateContract{
		ContractID:      contractID,
		InfluencerID:    evt.OriginInfluencer.ID,
		InfluencerName:  evt.OriginInfluencer.Name,
		InfluencerEmail: evt.OriginInfluencer.Email,
		CampaignID:      evt.CampaignID,
		CampaignName:    evt.Name,
		Categories:      evt.TargetCategories,
		BaseAmount:      evt.Commission.Amount,
		Currency:        evt.Commission.Currency,
		Period:          evt.Period,
		ContractType:    codec.ContractOneOff,
	})
	if err != nil {
		return saga, err
	}

	// §4.5 row 2: "log Step1; ... build & publish CreateContract".
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Step1"), env.Payload, TopicContractCommands, &cmd); err != nil {
		return saga, err
	}

	saga.Context[ctxContractID] = contractID
	saga.CurrentStep = StepCreateContract
	saga.Status = StatusRunning
	saga.StepDeadline = env.EmittedAt.Time().Add(c.timeout)
	return saga, nil
}

func handleContractCreated(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if !(saga.Status == StatusRunning && saga.CurrentStep == StepCreateContract) {
		return saga, nil
	}

	var evt codec.ContractCreated
	if err := codec.DecodePayload(env, &evt); err != nil {
		return saga, fmt.Errorf("coordinator: decode ContractCreated: %w", err)
	}

	// §4.5 row 3: "log Step2; log End" → Completed.
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Step2"), env.Payload, "", nil); err != nil {
		return saga, err
	}
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("End"), nil, "", nil); err != nil {
		return saga, err
	}

	saga.Context[ctxContractID] = evt.ContractID
	saga.Status = StatusCompleted
	saga.CurrentStep = StepEnd
	return saga, nil
}

func handleContractError(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if !(saga.Status == StatusRunning && saga.CurrentStep == StepCreateContract) {
		return saga, nil
	}

	var evt codec.ContractError
	if err := codec.DecodePayload(env, &evt); err != nil {
		return saga, fmt.Errorf("coordinator: decode ContractError: %w", err)
	}

	// A compensation command is issued only if the forward step it undoes
	// was actually logged (§4.5) — RegisterCampaign always was, by the time
	// a ContractError can occur, since CreateContract is only reachable
	// after CampaignCreated logged Step1.
	campaignID := saga.Context[ctxCampaignID]
	cmd, err := codec.NewEnvelope(uuid.NewString(), saga.CorrelationID, codec.KindDeleteCampaign, "coordinator", env.EmittedAt.Time(), codec.DeleteCampaign{
		CampaignID:   campaignID,
		InfluencerID: saga.Context[ctxInfluencerID],
		Reason:       fmt.Sprintf("compensation: contract error (%s): %s", evt.ErrorKind, evt.ErrorDetail),
	})
	if err != nil {
		return saga, err
	}

	// §4.5 row 4: "log error; enter Compensating; build & publish DeleteCampaign".
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Error"), env.Payload, TopicCampaignDeletion, &cmd); err != nil {
		return saga, err
	}

	saga.Status = StatusCompensating
	saga.StepDeadline = env.EmittedAt.Time().Add(c.timeout)
	return saga, nil
}

func handleCampaignDeleted(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if saga.Status != StatusCompensating {
		return saga, nil
	}

	// §4.5 row 5: "log compensation; terminate" → Compensated.
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Compensation"), env.Payload, "", nil); err != nil {
		return saga, err
	}
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("End"), nil, "", nil); err != nil {
		return saga, err
	}

	saga.Status = StatusCompensated
	saga.CurrentStep = StepEnd
	return saga, nil
}

// handleCampaignError terminates the saga as Failed — a business-rule
// rejection at Step1 has nothing to compensate (§4.5 "Campaign business-error").
func handleCampaignError(ctx context.Context, c *Coordinator, tx *sql.Tx, saga Saga, env codec.Envelope) (Saga, error) {
	if !(saga.Status == StatusRunning && saga.CurrentStep == StepRegisterCampaign) {
		return saga, nil
	}

	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("Error"), env.Payload, "", nil); err != nil {
		return saga, err
	}
	if err := c.logStep(ctx, tx, saga.CorrelationID, codec.Kind("End"), nil, "", nil); err != nil {
		return saga, err
	}

	saga.Status = StatusFailed
	saga.CurrentStep = StepEnd
	return saga, nil
}
