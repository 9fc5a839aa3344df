// Package metrics exposes Prometheus collectors for the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_jobs_started_total",
		Help: "Jobs created and dispatched, by job type.",
	}, []string{"job_type"})

	JobsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_jobs_deduplicated_total",
		Help: "Start calls that returned an existing job row, by job type.",
	}, []string{"job_type"})

	DebitsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_credit_debits_granted_total",
		Help: "Granted credit debits, by feature.",
	}, []string{"feature"})

	DebitsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_credit_debits_denied_total",
		Help: "Debits denied for insufficient credit, by feature.",
	}, []string{"feature"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_credit_refunds_total",
		Help: "Compensating refunds issued, by error code.",
	}, []string{"reason"})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_dispatch_failures_total",
		Help: "Dispatch calls that failed, by job type.",
	}, []string{"job_type"})

	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealforge_job_completions_total",
		Help: "Worker completion callbacks applied, by outcome.",
	}, []string{"outcome"})

	StuckJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mealforge_jobs_stuck_running",
		Help: "Jobs running longer than the monitor threshold.",
	})
)
