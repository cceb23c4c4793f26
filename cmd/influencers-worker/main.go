// Command influencers-worker runs the Influencers service: it applies
// CreateInfluencer commands and emits InfluencerRegistered, the saga's
// trigger event (§4.4).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/services/influencers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bootstrap.New(ctx, "influencers-worker")
	if err != nil {
		panic(err)
	}
	defer proc.Close(context.Background())
	proc.ServeMetrics()

	if _, err := proc.DB.ExecContext(ctx, influencers.Schema); err != nil {
		proc.Logger.Fatal("influencers-worker: apply schema", zap.Error(err))
	}

	repo := influencers.NewRepository(proc.DB, proc.Logger.GetZapLogger())
	worker := influencers.NewWorker(repo, proc.Bus, proc.Guard, proc.Logger)

	if _, err := worker.Start(ctx); err != nil {
		proc.Logger.Fatal("influencers-worker: subscribe", zap.Error(err))
	}

	proc.Logger.Info("influencers-worker started", zap.String("topic", influencers.TopicCommands))
	<-ctx.Done()
	proc.Logger.Info("influencers-worker shutting down")
}
