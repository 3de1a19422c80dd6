package executor

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"utrader/src/connectors"
)

// StartLoop drives the whole trading side: entries on a poll interval (or
// sooner, when the scanner nudges), exits on a tight ticker, reconciliation
// on a slow one. Blocks until the context is cancelled.
//
// nudge and ticks may be nil; a nil channel simply never fires.
func StartLoop(ctx context.Context, deps Deps, nudge <-chan struct{}, ticks <-chan connectors.PriceTick) error {
	cfg := GetConfig()

	entry := NewEntry(deps)
	exits := NewExitMonitor(deps)
	reconciler := NewReconciler(deps)

	entryTicker := time.NewTicker(cfg.SignalPollInterval)
	defer entryTicker.Stop()
	exitTicker := time.NewTicker(cfg.ExitCheckInterval)
	defer exitTicker.Stop()
	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	logger.WithFields(map[string]interface{}{
		"signal_poll": cfg.SignalPollInterval.String(),
		"exit_check":  cfg.ExitCheckInterval.String(),
		"reconcile":   cfg.ReconcileInterval.String(),
	}).Info("[executor] loop started")

	// Catch up on anything that happened while the service was down.
	reconciler.Run(ctx)
	entry.ProcessSignals(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("[executor] loop stopped")
			return nil

		case <-nudge:
			entry.ProcessSignals(ctx)

		case <-entryTicker.C:
			entry.ProcessSignals(ctx)

		case tick := <-ticks:
			exits.ApplyTick(tick)

		case <-exitTicker.C:
			exits.CheckPositions(ctx)

		case <-reconcileTicker.C:
			reconciler.Run(ctx)
		}
	}
}
