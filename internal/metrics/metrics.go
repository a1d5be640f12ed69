// Package metrics holds Prometheus instruments that are used across the
// sync engine.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caresync_active_tenants",
			Help: "Number of campuses currently loaded in memory.",
		})

	TenantLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caresync_tenant_load_total",
			Help: "Cumulative number of campuses successfully loaded.",
		})

	TenantLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caresync_tenant_load_errors_total",
			Help: "Cumulative number of campus load errors.",
		})

	TenantEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caresync_tenant_evict_total",
			Help: "Cumulative number of campuses evicted from the cache.",
		})

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caresync_sync_runs_total",
			Help: "Sync runs by trigger and terminal status.",
		},
		[]string{"trigger", "status"})

	SyncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caresync_sync_run_duration_seconds",
			Help:    "Wall-clock duration of full sync runs.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		})

	MembersReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caresync_members_reconciled_total",
			Help: "Per-record reconcile outcomes (created, updated, archived, unchanged).",
		},
		[]string{"outcome"})

	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caresync_webhook_requests_total",
			Help: "Inbound webhook calls by outcome.",
		},
		[]string{"outcome"})

	LockContentionSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caresync_lock_contention_skips_total",
			Help: "Triggers dropped because the campus was already syncing.",
		})

	CredentialKeyEphemeral = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "caresync_credential_key_ephemeral",
			Help: "1 when the credential cipher key was generated at startup instead of configured.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveTenants,
		TenantLoadTotal,
		TenantLoadErrorsTotal,
		TenantEvictTotal,
		SyncRunsTotal,
		SyncRunDuration,
		MembersReconciled,
		WebhookRequestsTotal,
		LockContentionSkips,
		CredentialKeyEphemeral,
	)
}
