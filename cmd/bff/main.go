// Command bff runs the admission front: the HTTP surface external callers
// use to trigger an influencer-onboarding saga and to watch it resolve
// (§4.7).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bff"
	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := bootstrap.New(ctx, "bff")
	if err != nil {
		panic(err)
	}
	defer proc.Close(context.Background())
	proc.ServeMetrics()

	handler := bff.NewHandler(proc.Bus, proc.Cache, proc.Logger)
	mux := http.NewServeMux()
	handler.Routes(mux)

	addr := proc.Config.AppPort
	if addr == "" {
		addr = "8080"
	}
	if addr[0] != ':' {
		addr = ":" + addr
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		proc.Logger.Info("bff started", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			proc.Logger.Fatal("bff: listen and serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	proc.Logger.Info("bff shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		proc.Logger.Warn("bff: http server shutdown failed", zap.Error(err))
	}
}
