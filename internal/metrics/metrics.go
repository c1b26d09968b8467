// Package metrics holds the prometheus collectors shared by the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergeOutcomes counts per-candidate merge decisions.
	MergeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_merge_outcomes_total",
		Help: "Merge decisions by source and outcome (created, updated, removed, skipped, failed)",
	}, []string{"source", "outcome"})

	// QuotaDenials counts TryConsume calls that were refused.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_quota_denials_total",
		Help: "Provider calls refused by the quota governor, by reason",
	}, []string{"provider", "reason"})

	// QuotaThrottles counts provider throttling signals.
	QuotaThrottles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_quota_throttles_total",
		Help: "Throttling signals reported by providers",
	}, []string{"provider"})

	// FetchFailures counts provider fetches that returned no usable data.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_fetch_failures_total",
		Help: "Provider fetch failures by provider and kind",
	}, []string{"provider", "kind"})

	// JobRuns counts scheduler decisions per job.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_job_runs_total",
		Help: "Scheduled job decisions by job and outcome (ran, failed, capped, busy)",
	}, []string{"job", "outcome"})

	// PeriodExtractions counts extractor outcomes by grade.
	PeriodExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exhibit_period_extractions_total",
		Help: "Period extraction results by grade (A, B, C, permanent, unknown)",
	}, []string{"grade"})
)
