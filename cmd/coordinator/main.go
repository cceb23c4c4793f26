// Command coordinator runs the saga coordinator process: it consumes every
// domain event topic, advances the saga state machine, and drives the
// outbox dispatcher and the step-timeout sweeper (§4, §4.5, §4.6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/coordinator"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
	"github.com/alpespartners/saga-orchestrator/pkg/lifecycle"
)

// eventTopics is every topic the coordinator observes for state-machine
// transitions (§6). It never subscribes to the command topics it itself
// publishes to; those are consumed by the service workers.
var eventTopics = []string{
	coordinator.TopicInfluencerEvents,
	coordinator.TopicCampaignEvents,
	coordinator.TopicContractEvents,
	coordinator.TopicContractErrorEvents,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bootstrap.New(ctx, "saga-coordinator")
	if err != nil {
		panic(err)
	}
	defer proc.Close(context.Background())
	proc.ServeMetrics()

	if _, err := proc.DB.ExecContext(ctx, sagalog.Schema); err != nil {
		proc.Logger.Fatal("coordinator: apply sagalog schema", zap.Error(err))
	}
	if _, err := proc.DB.ExecContext(ctx, outbox.Schema); err != nil {
		proc.Logger.Fatal("coordinator: apply outbox schema", zap.Error(err))
	}
	if _, err := proc.DB.ExecContext(ctx, coordinator.Schema); err != nil {
		proc.Logger.Fatal("coordinator: apply coordinator schema", zap.Error(err))
	}

	sagaStore := coordinator.NewPostgresStore(proc.DB, proc.Logger.GetZapLogger())
	logStore := sagalog.NewPostgresStore(proc.DB, proc.Logger.GetZapLogger())
	outboxStore := outbox.NewStore(proc.DB, proc.Logger.GetZapLogger())

	c := coordinator.New(proc.DB, sagaStore, logStore, outboxStore, proc.Bus, proc.Logger, proc.Config.StepTimeout, proc.Guard)

	for _, topic := range eventTopics {
		if _, err := proc.Bus.Subscribe(ctx, topic, coordinator.GroupCoordinator, c.HandleEnvelope); err != nil {
			proc.Logger.Fatal("coordinator: subscribe", zap.String("topic", topic), zap.Error(err))
		}
	}

	dispatcher := outbox.NewDispatcher(outboxStore, proc.Bus, proc.Logger.GetZapLogger())
	dispatcherWorker := lifecycle.NewBackgroundWorker("outbox-dispatcher", dispatcher.Run, time.Second, proc.Logger.GetZapLogger())
	if err := dispatcherWorker.Start(ctx); err != nil {
		proc.Logger.Fatal("coordinator: start outbox dispatcher", zap.Error(err))
	}

	sweeper := coordinator.NewSweeper(c, 30*time.Second)
	sweeper.Start()

	proc.Logger.Info("saga-coordinator started",
		zap.Strings("topics", eventTopics),
		zap.Duration("step_timeout", proc.Config.StepTimeout))

	<-ctx.Done()
	proc.Logger.Info("saga-coordinator shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dispatcherWorker.Stop(shutdownCtx); err != nil {
		proc.Logger.Warn("coordinator: outbox dispatcher stop", zap.Error(err))
	}
	if err := sweeper.Close(shutdownCtx); err != nil {
		proc.Logger.Warn("coordinator: sweeper stop", zap.Error(err))
	}
}
