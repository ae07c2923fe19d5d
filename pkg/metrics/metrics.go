// Package metrics holds the Prometheus collectors shared by the reconciler and the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconcile run results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Role lookup sources.
const (
	SourceCache    = "cache"
	SourceDatabase = "database"
	SourceDefault  = "default"
)

var (
	// ReconcileRuns counts reconciliation runs by result.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_reconcile_runs_total",
		Help: "Total number of reconciliation runs",
	}, []string{"result"})

	// RowsRepaired counts rows whose domain column was rewritten to its default.
	RowsRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_reconcile_rows_repaired_total",
		Help: "Total number of rows rewritten into their column domain",
	}, []string{"table", "column"})

	// ReconcileDuration tracks how long a full run takes.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_reconcile_duration_seconds",
		Help:    "Duration of reconciliation runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// RoleLookups counts role lookups by where the answer came from.
	RoleLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_role_lookups_total",
		Help: "Total number of role lookups by source",
	}, []string{"source"})

	// HTTPRequests counts API requests by method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
