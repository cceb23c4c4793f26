// Command campaigns-worker runs the Campaigns service: it applies
// RegisterCampaign commands forward and DeleteCampaign commands as a
// compensation (§4.4, §4.5).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/services/campaigns"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bootstrap.New(ctx, "campaigns-worker")
	if err != nil {
		panic(err)
	}
	defer proc.Close(context.Background())
	proc.ServeMetrics()

	if _, err := proc.DB.ExecContext(ctx, campaigns.Schema); err != nil {
		proc.Logger.Fatal("campaigns-worker: apply schema", zap.Error(err))
	}

	repo := campaigns.NewRepository(proc.DB, proc.Logger.GetZapLogger())
	worker := campaigns.NewWorker(repo, proc.Bus, proc.Guard, proc.Logger)

	if _, err := worker.Start(ctx); err != nil {
		proc.Logger.Fatal("campaigns-worker: subscribe", zap.Error(err))
	}

	proc.Logger.Info("campaigns-worker started",
		zap.String("commands_topic", campaigns.TopicCommands),
		zap.String("deletion_topic", campaigns.TopicDeletion))
	<-ctx.Done()
	proc.Logger.Info("campaigns-worker shutting down")
}
