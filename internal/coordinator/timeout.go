package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/utils"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepConcurrency bounds how many timed-out sagas one sweep tick drives
// forward at once. Each is independent (own correlation lock, own
// transaction), so fanning them out is safe; a pool bounds it so a sweep
// that finds thousands of stragglers at once doesn't spawn thousands of
// goroutines all opening their own Postgres transaction.
const sweepConcurrency = 8

// sagaSweepTask adapts one timed-out saga into a utils.Task so the sweep
// can drive several forward concurrently through a bounded pool.
type sagaSweepTask struct {
	c             *Coordinator
	correlationID string
}

func (t sagaSweepTask) Process(ctx context.Context) error {
	unlock := t.c.keyLocks.Lock(t.correlationID)
	defer unlock()
	if err := t.c.sweepOne(ctx, t.correlationID); err != nil {
		return fmt.Errorf("correlation_id %s: %w", t.correlationID, err)
	}
	return nil
}

// maxCompensationRetries bounds the exponential-backoff retry schedule for a
// stuck compensation (§4.5 "retries with exponential backoff up to a bounded
// number of attempts"). Past this, the saga stays Compensating and an
// operator alert is logged instead of retried further.
const maxCompensationRetries = 5

const ctxCompensationRetries = "compensation_retries"

// Sweeper periodically sweeps for sagas whose step deadline has passed and
// drives them to timeout/compensation, per §4.5 "Timeouts".
type Sweeper struct {
	coordinator *Coordinator
	cron        *cron.Cron
	pool        *utils.WorkerPool
}

// NewSweeper builds a Sweeper that checks for timed-out sagas on interval.
func NewSweeper(c *Coordinator, interval time.Duration) *Sweeper {
	s := &Sweeper{
		coordinator: c,
		cron:        cron.New(),
		pool:        utils.NewWorkerPool(sweepConcurrency),
	}
	spec := fmt.Sprintf("@every %s", interval.String())
	_, _ = s.cron.AddFunc(spec, func() {
		if err := s.sweepOnce(context.Background()); err != nil {
			c.logger.Error("coordinator: timeout sweep failed", zap.Error(err))
		}
	})
	go s.logPoolErrors()
	return s
}

func (s *Sweeper) logPoolErrors() {
	for err := range s.pool.Errors() {
		s.coordinator.logger.Error("coordinator: sweep task failed", zap.Error(err))
	}
}

// Start begins the periodic sweep and the sweep task pool. Stop via Close.
func (s *Sweeper) Start() {
	s.pool.Start()
	s.cron.Start()
}

// Close stops the sweeper, waiting for any in-flight sweep to finish.
func (s *Sweeper) Close(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.pool.Stop()
	return nil
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	c := s.coordinator
	timedOut, err := c.sagas.ListTimedOut(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("coordinator: list timed out sagas: %w", err)
	}
	for _, saga := range timedOut {
		task := sagaSweepTask{c: c, correlationID: saga.CorrelationID}
		if err := s.pool.Submit(task); err != nil {
			return fmt.Errorf("coordinator: submit sweep task: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) sweepOne(ctx context.Context, correlationID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coordinator: begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saga, ok, err := c.sagas.GetForUpdate(ctx, tx, correlationID)
	if err != nil {
		return err
	}
	if !ok || saga.Status.Terminal() || saga.StepDeadline.IsZero() || time.Now().UTC().Before(saga.StepDeadline) {
		// Already resolved (an event beat the sweep) or no longer due.
		return nil
	}

	if err := c.logStep(ctx, tx, correlationID, codec.Kind("StepTimedOut"), nil, "", nil); err != nil {
		return err
	}

	switch {
	case saga.Status == StatusRunning && saga.CurrentStep == StepCreateContract:
		// Step2 had a compensation target (the campaign it depends on);
		// trigger it the same way a ContractError would.
		cmd, err := codec.NewEnvelope(uuid.NewString(), correlationID, codec.KindDeleteCampaign, "coordinator", time.Now().UTC(), codec.DeleteCampaign{
			CampaignID:   saga.Context[ctxCampaignID],
			InfluencerID: saga.Context[ctxInfluencerID],
			Reason:       "compensation: step timed out",
		})
		if err != nil {
			return err
		}
		if err := c.logStep(ctx, tx, correlationID, codec.Kind("Error"), nil, TopicCampaignDeletion, &cmd); err != nil {
			return err
		}
		saga.Status = StatusCompensating
		saga.StepDeadline = time.Now().UTC().Add(c.timeout)

	case saga.Status == StatusRunning:
		// Step1 (or earlier) timed out; nothing committed yet to compensate.
		saga.Status = StatusFailed
		saga.CurrentStep = StepEnd

	case saga.Status == StatusCompensating:
		retries := retryCount(saga.Context)
		if retries >= maxCompensationRetries {
			c.logger.Error("coordinator: compensation exhausted retries, operator attention required",
				zap.String("correlation_id", correlationID), zap.Int("retries", retries))
			saga.StepDeadline = time.Time{}
			break
		}
		cmd, err := codec.NewEnvelope(uuid.NewString(), correlationID, codec.KindDeleteCampaign, "coordinator", time.Now().UTC(), codec.DeleteCampaign{
			CampaignID:   saga.Context[ctxCampaignID],
			InfluencerID: saga.Context[ctxInfluencerID],
			Reason:       "compensation: retry after timeout",
		})
		if err != nil {
			return err
		}
		if err := c.outbox.Enqueue(ctx, tx, TopicCampaignDeletion, cmd); err != nil {
			return err
		}
		saga.Context[ctxCompensationRetries] = strconv.Itoa(retries + 1)
		saga.StepDeadline = time.Now().UTC().Add(backoffFor(retries + 1))
	}

	if err := c.sagas.Update(ctx, tx, saga); err != nil {
		return err
	}
	return tx.Commit()
}

func retryCount(ctxMap map[string]string) int {
	v, ok := ctxMap[ctxCompensationRetries]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// backoffFor returns an exponential delay for the nth compensation retry,
// capped at 10 minutes.
func backoffFor(n int) time.Duration {
	d := time.Second * time.Duration(1<<uint(n))
	const maxBackoff = 10 * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
