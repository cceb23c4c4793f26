// Command contracts-worker runs the Contracts service: it applies
// CreateContract commands and emits ContractCreated or ContractError
// (§4.4).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/services/contracts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bootstrap.New(ctx, "contracts-worker")
	if err != nil {
		panic(err)
	}
	defer proc.Close(context.Background())
	proc.ServeMetrics()

	if _, err := proc.DB.ExecContext(ctx, contracts.Schema); err != nil {
		proc.Logger.Fatal("contracts-worker: apply schema", zap.Error(err))
	}

	repo := contracts.NewRepository(proc.DB, proc.Logger.GetZapLogger())
	worker := contracts.NewWorker(repo, proc.Bus, proc.Guard, proc.Logger)

	if _, err := worker.Start(ctx); err != nil {
		proc.Logger.Fatal("contracts-worker: subscribe", zap.Error(err))
	}

	proc.Logger.Info("contracts-worker started", zap.String("topic", contracts.TopicCommands))
	<-ctx.Done()
	proc.Logger.Info("contracts-worker shutting down")
}
