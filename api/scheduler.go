/*
scheduler.go - Periodic balance reconciliation

PURPOSE:
  Periodically replays every account's transactions and compares the
  result with the stored balance (ledger.Engine.VerifyAll). Drift is
  logged at error level and kept for GET /admin/reconciliation.

DESIGN:
  - Run blocks until ctx is cancelled, so it slots into an errgroup
  - Sweeps once immediately, then every Interval
  - Read-only: drift is reported, never corrected

CONFIGURATION:
  - Interval: RECONCILE_INTERVAL (default 1h, 0 disables)

SEE ALSO:
  - ledger/verify.go: Replay and Verify
  - cmd/server/main.go: Starts the scheduler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
)

// Sweeper is the engine capability the scheduler needs.
type Sweeper interface {
	VerifyAll(ctx context.Context) ([]ledger.Reconciliation, error)
}

// ReconciliationRun records the outcome of one sweep.
type ReconciliationRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Drifted   []ledger.Reconciliation
	Err       error
}

// ReconciliationScheduler runs VerifyAll on a fixed interval.
type ReconciliationScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	last *ReconciliationRun
}

// NewReconciliationScheduler creates a scheduler. A non-positive interval
// disables it.
func NewReconciliationScheduler(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "reconciliation").Logger(),
	}
}

// Run sweeps until ctx is cancelled. It always returns nil.
func (rs *ReconciliationScheduler) Run(ctx context.Context) error {
	if rs.interval <= 0 {
		rs.log.Info().Msg("reconciliation scheduler disabled")
		return nil
	}

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	rs.log.Info().Dur("interval", rs.interval).Msg("reconciliation scheduler started")

	// Run immediately on start
	rs.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			rs.Sweep(ctx)
		case <-ctx.Done():
			rs.log.Info().Msg("reconciliation scheduler stopped")
			return nil
		}
	}
}

// Sweep runs one reconciliation pass and records it.
func (rs *ReconciliationScheduler) Sweep(ctx context.Context) ReconciliationRun {
	start := time.Now()
	drifted, err := rs.sweeper.VerifyAll(ctx)
	run := ReconciliationRun{
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Drifted:   drifted,
		Err:       err,
	}

	switch {
	case err != nil && ctx.Err() == nil:
		rs.log.Error().Err(err).Msg("reconciliation sweep failed")
	case len(drifted) > 0:
		for _, rec := range drifted {
			rs.log.Error().
				Str("user_id", string(rec.UserID)).
				Str("account_id", string(rec.AccountID)).
				Str("drift", rec.Drift.StringFixed(ledger.Scale)).
				Msg("account balance drift")
		}
	default:
		rs.log.Debug().Dur("duration", run.Duration).Msg("reconciliation sweep clean")
	}

	rs.mu.Lock()
	rs.last = &run
	rs.mu.Unlock()
	return run
}

// LastRun returns the most recent sweep, or nil before the first one.
func (rs *ReconciliationScheduler) LastRun() *ReconciliationRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last
}
