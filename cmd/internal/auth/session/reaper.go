package session

import (
	"context"
	"log/slog"
	"time"

	"tally/cmd/internal/metrics"
)

// Reaper periodically deletes expired session rows.
//
// Expired rows are already unusable (rotation and liveness checks compare
// expiry), so the reaper only bounds table growth. Each sweep is idempotent;
// a missed interval just means the next sweep deletes more.
type Reaper struct {
	store     Store
	interval  time.Duration
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewReaper constructs a Reaper. A non-positive interval falls back to one hour.
func NewReaper(store Store, interval time.Duration, logger *slog.Logger, collector *metrics.Collector) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, interval: interval, logger: logger, collector: collector}
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("session.reaper.start", slog.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			r.logger.Info("session.reaper.stop")
			return
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("session.reaper.sweep.fail", "err", err)
		return
	}
	r.collector.RecordReapedSessions(n)
	if n > 0 {
		r.logger.Info("session.reaper.sweep", slog.Int64("deleted", n))
	}
}
