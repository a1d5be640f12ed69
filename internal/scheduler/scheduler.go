// internal/scheduler/scheduler.go
//
// Sync Scheduler
// --------------
// A minute tick scans every enabled configuration of every live campus and
// dispatches due work to a fixed worker pool.  Two timers per campus:
// polling every polling_interval_hours (polling method only) and one
// unconditional reconciliation run a day at reconciliation_time.  When both
// come due on the same tick the reconciliation wins, it is a superset.
//
// Notes:
// - Timer state lives in the loop goroutine alone; Kick crosses in over a
//   channel, so there is no lock here.
// - Duplicate triggers die at the DB lease, not in a queue.  A campus
//   already running simply loses this tick.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/metrics"
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/synclog"
)

const dayLayout = "2006-01-02"

type job struct {
	cfg     syncconfig.Config
	trigger string
}

// Scheduler owns the sync timers for every campus.
type Scheduler struct {
	db      *sqlx.DB
	runner  *engine.Runner
	workers int
	tick    time.Duration
	kicks   chan uint64

	// Loop-goroutine state.  lastPoll is the last full run of any kind;
	// lastReconcileDay guards the one-a-day reconciliation.
	lastPoll         map[uint64]time.Time
	lastReconcileDay map[uint64]string
}

// New builds a scheduler over the shared runner.
func New(db *sqlx.DB, runner *engine.Runner, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		db:               db,
		runner:           runner,
		workers:          workers,
		tick:             time.Minute,
		kicks:            make(chan uint64, 16),
		lastPoll:         map[uint64]time.Time{},
		lastReconcileDay: map[uint64]string{},
	}
}

// Kick asks for an immediate manual run of one campus, from the same
// dispatch path the timers use.  Never blocks; a full queue drops the kick
// and the next timer picks the campus up anyway.
func (s *Scheduler) Kick(campusID uint64) {
	select {
	case s.kicks <- campusID:
	default:
		zap.L().Warn("scheduler kick dropped, queue full",
			zap.Uint64("campus_id", campusID))
	}
}

// Run hydrates timer state from the run log and blocks dispatching work
// until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.hydrate(ctx); err != nil {
		zap.S().Warnw("scheduler starting with cold timer state", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job)

	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j, ok := <-jobs:
					if !ok {
						return nil
					}
					s.work(ctx, j)
				}
			}
		})
	}

	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case id := <-s.kicks:
				s.dispatchKick(ctx, jobs, id)
			case <-ticker.C:
				s.scan(ctx, jobs, time.Now())
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// hydrate rebuilds lastPoll and lastReconcileDay from sync_run_log so a
// restart does not re-run every campus on the first tick.
func (s *Scheduler) hydrate(ctx context.Context) error {
	const q = `
        SELECT campus_id, trigger_type, MAX(started_at) AS last_run
        FROM   sync_run_log
        WHERE  trigger_type <> 'webhook'
        GROUP  BY campus_id, trigger_type`
	var rows []struct {
		CampusID uint64    `db:"campus_id"`
		Trigger  string    `db:"trigger_type"`
		LastRun  time.Time `db:"last_run"`
	}
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return err
	}
	for _, row := range rows {
		if row.LastRun.After(s.lastPoll[row.CampusID]) {
			s.lastPoll[row.CampusID] = row.LastRun
		}
		if row.Trigger == synclog.TriggerReconciliation {
			s.lastReconcileDay[row.CampusID] = row.LastRun.Format(dayLayout)
		}
	}
	return nil
}

// scan dispatches every campus whose timers came due by now.
func (s *Scheduler) scan(ctx context.Context, jobs chan<- job, now time.Time) {
	cfgs, err := syncconfig.AllEnabled(ctx, s.db)
	if err != nil {
		zap.S().Errorw("scheduler scan failed", "error", err)
		return
	}
	for _, cfg := range cfgs {
		trigger, ok := s.due(&cfg, now)
		if !ok {
			continue
		}
		s.mark(cfg.CampusID, trigger, now)
		select {
		case jobs <- job{cfg: cfg, trigger: trigger}:
		case <-ctx.Done():
			return
		}
	}
}

// due decides whether the campus needs a run right now and which kind.
// Reconciliation is due once per day from reconciliation_time onward, for
// every sync method; polling is due on its interval, polling method only.
func (s *Scheduler) due(cfg *syncconfig.Config, now time.Time) (string, bool) {
	hour, minute := cfg.ReconcileClock()
	pastClock := now.Hour() > hour || (now.Hour() == hour && now.Minute() >= minute)
	if pastClock && s.lastReconcileDay[cfg.CampusID] != now.Format(dayLayout) {
		return synclog.TriggerReconciliation, true
	}

	if cfg.Method == syncconfig.MethodPolling {
		last, ran := s.lastPoll[cfg.CampusID]
		if !ran || now.Sub(last) >= cfg.PollingInterval() {
			return synclog.TriggerScheduled, true
		}
	}
	return "", false
}

// mark records a dispatch.  A reconciliation also resets the polling timer;
// the run it triggers is a full run.
func (s *Scheduler) mark(campusID uint64, trigger string, now time.Time) {
	s.lastPoll[campusID] = now
	if trigger == synclog.TriggerReconciliation {
		s.lastReconcileDay[campusID] = now.Format(dayLayout)
	}
}

// dispatchKick re-reads the campus's configuration and queues a manual run.
// The fresh read keeps a just-saved config from racing its own kick.
func (s *Scheduler) dispatchKick(ctx context.Context, jobs chan<- job, campusID uint64) {
	cfg, err := syncconfig.ByCampus(ctx, s.db, campusID)
	if err != nil {
		zap.S().Warnw("kick ignored, configuration unreadable",
			"campus_id", campusID, "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	s.mark(campusID, synclog.TriggerManual, time.Now())
	select {
	case jobs <- job{cfg: *cfg, trigger: synclog.TriggerManual}:
	case <-ctx.Done():
	}
}

// work runs one dispatched job.  Lease contention is an expected outcome
// here, not an error.
func (s *Scheduler) work(ctx context.Context, j job) {
	_, err := s.runner.Run(ctx, &j.cfg, j.trigger)
	switch {
	case errors.Is(err, engine.ErrSyncInFlight):
		metrics.LockContentionSkips.Inc()
		zap.L().Info("sync skipped, lease held",
			zap.Uint64("campus_id", j.cfg.CampusID),
			zap.String("trigger", j.trigger))
	case err != nil:
		zap.S().Errorw("dispatched sync failed",
			"campus_id", j.cfg.CampusID, "trigger", j.trigger, "error", err)
	}
}
