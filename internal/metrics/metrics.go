// Package metrics exposes Prometheus instrumentation for the store and the
// changeset pipeline. Collectors are registered at package init via promauto
// so callers never have to thread a registry through constructors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GraphQueries counts store operations by kind.
	GraphQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "graph",
		Name:      "queries_total",
		Help:      "Store operations by kind.",
	}, []string{"op"})

	// PropertyWrites counts attribute version writes. kind is "scalar",
	// "list" or "overlay".
	PropertyWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "properties",
		Name:      "writes_total",
		Help:      "Attribute version writes by kind.",
	}, []string{"kind"})

	// CASConflicts counts compare-and-set writes rejected because the
	// expected prior version was no longer active.
	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "properties",
		Name:      "cas_conflicts_total",
		Help:      "Writes rejected by version compare-and-set.",
	})

	// ChangesetFinalizations counts changeset finalizations by resulting
	// status and outcome ("ok" or "error").
	ChangesetFinalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "changesets",
		Name:      "finalizations_total",
		Help:      "Changeset finalizations by status and outcome.",
	}, []string{"status", "outcome"})

	// FinalizeDuration observes wall time of a full changeset finalization,
	// including all per-entity transactions.
	FinalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "groundwork",
		Subsystem: "changesets",
		Name:      "finalize_duration_seconds",
		Help:      "Duration of changeset finalization.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// AccessDenied counts property-level authorization denials by action
	// ("read" or "edit").
	AccessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "authz",
		Name:      "denied_total",
		Help:      "Property-level authorization denials by action.",
	}, []string{"action"})

	// JanitorPurged counts rows removed by retention sweeps, by table.
	JanitorPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundwork",
		Subsystem: "janitor",
		Name:      "purged_rows_total",
		Help:      "Rows removed by retention sweeps.",
	}, []string{"table"})
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
