package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// pruneSchedule runs the retention sweep nightly, off-peak.
const pruneSchedule = "30 3 * * *"

// Retention prunes audit records older than the configured age on a cron
// schedule.
type Retention struct {
	cron   *cron.Cron
	store  *Store
	maxAge time.Duration
}

// NewRetention creates a retention sweeper keeping records for the given
// number of days.
func NewRetention(store *Store, days int) *Retention {
	return &Retention{
		cron:   cron.New(),
		store:  store,
		maxAge: time.Duration(days) * 24 * time.Hour,
	}
}

// Start registers the nightly sweep and begins the scheduler. An immediate
// sweep runs first so a long-stopped server catches up on startup.
func (r *Retention) Start() error {
	r.sweep()
	if _, err := r.cron.AddFunc(pruneSchedule, r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to complete.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Retention) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.maxAge)
	pruned, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("audit_retention_sweep_failed")
		return
	}
	if pruned > 0 {
		log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("audit_retention_sweep")
	}
}
