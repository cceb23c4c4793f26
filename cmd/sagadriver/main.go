// Command sagadriver is a smoke-test CLI: it publishes one CreateInfluencer
// command and tails events-contracts/events-contracts-error for that
// correlation id until the saga reaches a terminal state, for exercising a
// running saga end-to-end outside the BFF (SPEC_FULL.md "run_saga.py
// standalone saga smoke driver").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/services/contracts"
	"github.com/alpespartners/saga-orchestrator/internal/services/influencers"
)

func main() {
	name := flag.String("name", "Ada Lovelace", "influencer name")
	email := flag.String("email", "ada@example.com", "influencer email")
	categories := flag.String("categories", "tech,fashion", "comma-separated categories")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for a terminal event")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	proc, err := bootstrap.New(ctx, "sagadriver")
	if err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: bootstrap:", err)
		os.Exit(1)
	}
	defer proc.Close(context.Background())

	influencerID := "inf-" + uuid.NewString()[:8]
	correlationID := uuid.NewString()

	terminal := make(chan struct{})
	group := "sagadriver-" + correlationID
	watch := func(_ context.Context, env codec.Envelope) bus.Result {
		if env.CorrelationID != correlationID {
			return bus.Ack
		}
		switch env.Type {
		case codec.KindContractCreated:
			var payload codec.ContractCreated
			if err := codec.DecodePayload(env, &payload); err == nil {
				printResult(true, payload.ContractID, payload.TotalAmount+" "+payload.Currency, "")
			}
			close(terminal)
		case codec.KindContractError:
			var payload codec.ContractError
			if err := codec.DecodePayload(env, &payload); err == nil {
				printResult(false, "", "", payload.ErrorKind+": "+payload.ErrorDetail)
			}
			close(terminal)
		}
		return bus.Ack
	}

	contractsSub, err := proc.Bus.Subscribe(ctx, contracts.TopicEvents, group, watch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: subscribe events-contracts:", err)
		os.Exit(1)
	}
	defer contractsSub.Close(context.Background())

	errorsSub, err := proc.Bus.Subscribe(ctx, contracts.TopicErrorEvents, group, watch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: subscribe events-contracts-error:", err)
		os.Exit(1)
	}
	defer errorsSub.Close(context.Background())

	payload := codec.CreateInfluencer{
		ID:         influencerID,
		Name:       *name,
		Email:      *email,
		Categories: strings.Split(*categories, ","),
	}
	env, err := codec.NewEnvelope(uuid.NewString(), correlationID, codec.KindCreateInfluencer, "sagadriver", time.Now().UTC(), payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: build envelope:", err)
		os.Exit(1)
	}
	if err := proc.Bus.Publish(ctx, influencers.TopicCommands, env); err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: publish create influencer:", err)
		os.Exit(1)
	}

	printHeader(correlationID, influencerID)

	select {
	case <-terminal:
	case <-ctx.Done():
		color.Yellow("sagadriver: timed out waiting for a terminal event")
		os.Exit(1)
	}
}

func printHeader(correlationID, influencerID string) {
	table := tablewriter.NewWriter(os.Stdout)
	_ = table.Append([]string{"correlation_id", correlationID})
	_ = table.Append([]string{"influencer_id", influencerID})
	color.Cyan("sagadriver: publishing CreateInfluencer, watching for a terminal event")
	if err := table.Render(); err != nil {
		fmt.Fprintln(os.Stderr, "sagadriver: render table:", err)
	}
}

func printResult(ok bool, contractID, amount, reason string) {
	if ok {
		color.Green("saga completed: contract %s created (%s)", contractID, amount)
		return
	}
	color.Red("saga failed: %s", reason)
}
