package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes sweep passes on a fixed interval until its context is
// cancelled. It is the in-process equivalent of a cron entry invoking the
// sweep subcommand: each tick is one independent batch pass, and a pass that
// fails (scan error) does not stop the loop.
type Runner struct {
	sweeper  *Sweeper
	interval time.Duration
	log      *slog.Logger
}

// NewRunner creates a Runner that calls sweeper.RunOnce every interval.
func NewRunner(sweeper *Sweeper, interval time.Duration, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{sweeper: sweeper, interval: interval, log: log}
}

// Start runs one pass immediately, then one per tick, and blocks until ctx is
// cancelled. Uses time.NewTicker (not time.After) to avoid timer leaks.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("sweep runner started", "interval", r.interval)
	r.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("sweep runner stopping")
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	if _, err := r.sweeper.RunOnce(ctx); err != nil {
		r.log.Error("sweep pass error", "error", err)
	}
}
