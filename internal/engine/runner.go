// internal/engine/runner.go
//
// Reconciliation Runner
// ---------------------
// One Run is: claim the lease, decrypt credentials, log in, fetch the
// complete remote roster, converge every record, archive whoever the
// complete roster no longer contains, write the audit row.
//
// Context:
// - Nothing is applied until the whole roster is in memory.  A fetch that
//   breaks partway produces a failed audit row and zero mutations, because
//   archival against a truncated roster would conclude that everyone on the
//   missing pages left.
// - Cancellation mid-apply stops the loop and skips the archival sweep;
//   already-applied records stay applied and a rerun converges them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/coreapi"
	"github.com/campuscare/caresync/internal/filter"
	"github.com/campuscare/caresync/internal/member"
	"github.com/campuscare/caresync/internal/metrics"
	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/synclog"
	"github.com/campuscare/caresync/internal/vault"
)

// Runner executes full sync runs.  Safe for concurrent use; per-campus
// serialization comes from the lease, not from the struct.
type Runner struct {
	DB           *sqlx.DB
	Vault        *vault.Vault
	HTTPClient   *http.Client
	PageSize     int
	FetchTimeout time.Duration
	LeaseTTL     time.Duration
}

// Run executes one full sync for the campus and returns the persisted
// audit row.  ErrSyncInFlight comes back when the campus is already
// running; a run that fails internally still returns its row, with the
// failure in Status and ErrorDetail.
func (r *Runner) Run(ctx context.Context, cfg *syncconfig.Config, trigger string) (*synclog.Run, error) {
	release, err := AcquireLease(ctx, r.DB, cfg.CampusID, r.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	run := &synclog.Run{
		CampusID:  cfg.CampusID,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	r.execute(ctx, cfg, run)
	run.FinishedAt = time.Now()

	// The audit row must land even when the run died to a shutdown.
	if err := synclog.Append(context.WithoutCancel(ctx), r.DB, run); err != nil {
		return nil, fmt.Errorf("sync run finished but could not be logged: %w", err)
	}

	metrics.SyncRunsTotal.WithLabelValues(trigger, run.Status).Inc()
	metrics.SyncRunDuration.Observe(run.Duration().Seconds())
	zap.S().Infow("sync run finished",
		"campus_id", cfg.CampusID, "trigger", trigger, "status", run.Status,
		"fetched", run.Fetched, "created", run.Created, "updated", run.Updated,
		"archived", run.Archived, "skipped", run.Skipped,
		"duration", run.Duration())
	return run, nil
}

func (r *Runner) execute(ctx context.Context, cfg *syncconfig.Config, run *synclog.Run) {
	creds, err := syncconfig.OpenCredentials(r.Vault, cfg.CredentialsEnc)
	if err != nil {
		// Undecryptable credentials never reach the remote system.
		r.fail(run, fmt.Errorf("credentials: %w", err))
		return
	}

	client := coreapi.New(coreapi.Endpoint{
		BaseURL:     cfg.BaseURL,
		LoginPath:   cfg.LoginPath,
		MembersPath: cfg.MembersPath,
	}, r.HTTPClient, r.PageSize)

	fetchCtx := ctx
	if r.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.FetchTimeout)
		defer cancel()
	}

	session, err := client.Login(fetchCtx, creds.APIKey, creds.APISecret)
	if err != nil {
		r.fail(run, fmt.Errorf("login: %w", err))
		return
	}

	records, err := client.FetchAll(fetchCtx, session)
	if err != nil {
		var pf *coreapi.PartialFetchError
		if errors.As(err, &pf) {
			run.Fetched = pf.Records
		}
		r.fail(run, fmt.Errorf("fetch: %w", err))
		return
	}
	run.Fetched = len(records)

	seen := make([]string, 0, len(records))
	for _, rec := range records {
		if ctx.Err() != nil {
			r.fail(run, fmt.Errorf("apply interrupted: %w", ctx.Err()))
			return
		}

		matched, err := filter.Included(cfg.Rules, cfg.FilterMode, rec.Fields())
		if err != nil {
			// Treated as non-matching: skipped now, swept below if a row
			// exists.
			run.Skipped++
			zap.S().Warnw("filter evaluation failed for record",
				"campus_id", cfg.CampusID, "external_member_id", rec.ID, "error", err)
			continue
		}

		outcome, err := ReconcileOne(ctx, r.DB, cfg, rec, matched)
		if err != nil {
			var ne *NormalizeError
			if errors.As(err, &ne) {
				// Present in the roster, just not storable this run; the
				// sweep must not archive it.
				run.Skipped++
				seen = append(seen, rec.ID)
				zap.S().Warnw("record skipped",
					"campus_id", cfg.CampusID, "external_member_id", rec.ID, "error", err)
				continue
			}
			r.fail(run, fmt.Errorf("reconcile %s: %w", rec.ID, err))
			return
		}

		if matched {
			seen = append(seen, rec.ID)
		}
		switch outcome {
		case OutcomeCreated:
			run.Created++
		case OutcomeUpdated:
			run.Updated++
		case OutcomeArchived:
			run.Archived++
		}
	}

	swept, err := member.ArchiveMissing(ctx, r.DB, cfg.CampusID, seen)
	if err != nil {
		r.fail(run, fmt.Errorf("archive sweep: %w", err))
		return
	}
	run.Archived += int(swept)
	metrics.MembersReconciled.WithLabelValues(string(OutcomeArchived)).Add(float64(swept))

	if run.Skipped > 0 {
		run.Status = synclog.StatusPartial
	} else {
		run.Status = synclog.StatusSuccess
	}
}

func (r *Runner) fail(run *synclog.Run, err error) {
	run.Status = synclog.StatusFailed
	detail := err.Error()
	run.ErrorDetail = &detail
	zap.S().Errorw("sync run failed",
		"campus_id", run.CampusID, "trigger", run.Trigger, "error", err)
}
