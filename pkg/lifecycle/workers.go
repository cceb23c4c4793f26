package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackgroundWorker runs workFunc once (interval == 0) or on a fixed
// interval, stoppable via Stop or context cancellation. The coordinator's
// outbox dispatcher runs as a BackgroundWorker; its step-timeout sweeper
// (coordinator.Sweeper) runs on a cron schedule instead.
type BackgroundWorker struct {
	name     string
	workFunc func(ctx context.Context) error
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewBackgroundWorker creates a new background worker.
func NewBackgroundWorker(name string, workFunc func(ctx context.Context) error, interval time.Duration, log *zap.Logger) *BackgroundWorker {
	return &BackgroundWorker{
		name:     name,
		workFunc: workFunc,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Name returns the worker name.
func (w *BackgroundWorker) Name() string {
	return w.name
}

// Start begins the background worker.
func (w *BackgroundWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.wg.Add(1)
	go w.run(ctx)
	w.started = true

	w.log.Info("background worker started", zap.String("worker", w.name))
	return nil
}

// Stop gracefully stops the background worker.
func (w *BackgroundWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("background worker stopped", zap.String("worker", w.name))
		return nil
	case <-ctx.Done():
		w.log.Warn("background worker stop timeout", zap.String("worker", w.name))
		return ctx.Err()
	}
}

// Health reports whether the worker has been started.
func (w *BackgroundWorker) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return fmt.Errorf("worker %s: not started", w.name)
	}
	return nil
}

func (w *BackgroundWorker) run(ctx context.Context) {
	defer w.wg.Done()

	if w.interval > 0 {
		w.runPeriodic(ctx)
	} else {
		w.runOnce(ctx)
	}
}

func (w *BackgroundWorker) runPeriodic(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("background worker context cancelled", zap.String("worker", w.name))
			return
		case <-w.stopCh:
			w.log.Debug("background worker stop signal received", zap.String("worker", w.name))
			return
		case <-ticker.C:
			if err := w.workFunc(ctx); err != nil {
				w.log.Error("background worker execution failed",
					zap.String("worker", w.name),
					zap.Error(err))
			}
		}
	}
}

func (w *BackgroundWorker) runOnce(ctx context.Context) {
	if err := w.workFunc(ctx); err != nil {
		w.log.Error("background worker execution failed",
			zap.String("worker", w.name),
			zap.Error(err))
	}
}
