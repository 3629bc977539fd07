package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/metrics"
)

// Start launches the background loops enabled in the configuration:
// notifier, metrics server, scheduler and orchestrator.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return errors.New("application is not initialized")
	}
	if a.started {
		return nil
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true

	if a.notifier != nil {
		a.notifier.Start(a.ctx)
	}

	if a.registry != nil {
		addr := a.config.Metrics.ListenAddr
		a.wg.Go(func() {
			if err := metrics.Serve(a.ctx, addr, a.registry, a.logger.Named("metrics")); err != nil {
				a.logger.Error("metrics server failed", err, logger.Field{Key: "addr", Value: addr})
			}
		})
	}

	if a.config.Scheduler.Enabled {
		if err := a.scheduler.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if a.config.Orchestrator.Enabled {
		if err := a.orchestrator.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start orchestrator: %w", err)
		}
	}

	a.activity.Record("app", "started", fmt.Sprintf("%d scheduled tasks", a.scheduler.TaskCount()))
	return nil
}

// Shutdown stops all components in reverse start order:
//  1. orchestrator (waits for an in-flight cycle)
//  2. scheduler (cancels and waits for an in-flight execution)
//  3. remaining sub-agents
//  4. metrics server and notifier
//  5. activity subscriptions
//
// Calling Shutdown more than once is safe.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		a.orchestrator.Stop()
		a.scheduler.Stop()
		if n := a.pool.CancelAll(); n > 0 {
			a.logger.Info("cancelled active sub-agents", logger.Field{Key: "count", Value: n})
		}

		a.cancel()
		a.wg.Wait()
		if a.notifier != nil {
			a.notifier.Stop()
		}
		a.started = false
	}

	for i := len(a.unsubscribe) - 1; i >= 0; i-- {
		a.unsubscribe[i]()
	}
	a.unsubscribe = nil

	a.logger.Info("application stopped")
	return nil
}
