package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TurnPruner deletes old turns.
type TurnPruner interface {
	DeleteTurnsBefore(cutoff time.Time) (int64, error)
}

// Retention periodically deletes turns older than a fixed age.
type Retention struct {
	store  TurnPruner
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

// NewRetention schedules pruning of turns older than maxAge on spec, a
// standard five-field cron expression or descriptor such as "@hourly".
func NewRetention(store TurnPruner, maxAge time.Duration, spec string) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention age must be positive, got %v", maxAge)
	}
	r := &Retention{store: store, maxAge: maxAge, cron: cron.New(), now: time.Now}
	if _, err := r.cron.AddFunc(spec, func() {
		if _, err := r.Prune(); err != nil {
			slog.Error("pruning audit log failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("scheduling retention %q: %w", spec, err)
	}
	return r, nil
}

// Prune deletes expired turns now.
func (r *Retention) Prune() (int64, error) {
	start := r.now()
	n, err := r.store.DeleteTurnsBefore(start.Add(-r.maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("pruned audit log", "deleted", n, "took", since(start))
	}
	return n, nil
}

// Start runs the schedule in its own goroutine.
func (r *Retention) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
