package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/mealforge/backend/internal/metrics"
	"github.com/mealforge/backend/internal/models"
)

type StuckJobMonitorArgs struct{}

func (StuckJobMonitorArgs) Kind() string { return "stuck_job_monitor" }

// JobStore is the read-side the monitor needs.
type JobStore interface {
	ListRunningLongerThan(ctx context.Context, cutoffSeconds int) ([]*models.Job, error)
}

// StuckJobMonitor surfaces jobs that have been running past the threshold
// without a completion callback. It only reports; reconciliation stays a
// human decision because the worker may still deliver a late callback.
type StuckJobMonitor struct {
	river.WorkerDefaults[StuckJobMonitorArgs]
	jobs      JobStore
	threshold time.Duration
	log       *slog.Logger
}

func NewStuckJobMonitor(jobs JobStore, threshold time.Duration, log *slog.Logger) *StuckJobMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &StuckJobMonitor{jobs: jobs, threshold: threshold, log: log}
}

func (w *StuckJobMonitor) Work(ctx context.Context, _ *river.Job[StuckJobMonitorArgs]) error {
	stuck, err := w.jobs.ListRunningLongerThan(ctx, int(w.threshold.Seconds()))
	if err != nil {
		return err
	}
	metrics.StuckJobs.Set(float64(len(stuck)))
	for _, j := range stuck {
		age := time.Duration(0)
		if j.DispatchedAt != nil {
			age = time.Since(*j.DispatchedAt)
		}
		w.log.Warn("job running past completion threshold",
			"job_id", j.ID, "account_id", j.AccountID, "type", j.JobType, "age", age.Round(time.Second))
	}
	return nil
}
