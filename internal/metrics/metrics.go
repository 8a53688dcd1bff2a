// Package metrics exposes prometheus instruments for the tenancy core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	QuotaReservations     *prometheus.CounterVec
	QuotaDenials          *prometheus.CounterVec
	QuotaReleaseAnomalies prometheus.Counter
	IsolationViolations   prometheus.Counter
	OverrideRequests      prometheus.Counter
	ProvisioningRuns      *prometheus.CounterVec
	ProvisioningDuration  prometheus.Histogram
	SchedulerJobRuns      *prometheus.CounterVec
	SchedulerJobDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		QuotaReservations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "quota_reservations_total",
			Help:      "Quota reservation attempts by resource and outcome.",
		}, []string{"resource", "outcome"}),
		QuotaDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "quota_denials_total",
			Help:      "Reservations denied because the limit was reached.",
		}, []string{"resource"}),
		QuotaReleaseAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "quota_release_anomalies_total",
			Help:      "Releases that would have driven a counter negative.",
		}),
		IsolationViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "isolation_violations_total",
			Help:      "Tenant-scoped access attempted outside an audited override.",
		}),
		OverrideRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "privileged_override_requests_total",
			Help:      "Requests carrying a validated cross-tenant override token.",
		}),
		ProvisioningRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "provisioning_runs_total",
			Help:      "Provisioning workflow invocations by terminal outcome.",
		}, []string{"outcome"}),
		ProvisioningDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tenantcore",
			Name:      "provisioning_duration_seconds",
			Help:      "Wall time of a full provisioning run.",
			Buckets:   prometheus.DefBuckets,
		}),
		SchedulerJobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantcore",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		SchedulerJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenantcore",
			Name:      "scheduler_job_duration_seconds",
			Help:      "Wall time of one scheduler job execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
