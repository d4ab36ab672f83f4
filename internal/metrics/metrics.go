// Package metrics exposes Prometheus collectors for the freeze/thaw protocol.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hana_agent"

// Thaw triggers.
const (
	TriggerCommit    = "commit"
	TriggerReconcile = "reconcile"
	TriggerAbort     = "abort"
	TriggerOrphan    = "orphan"
)

type Registry struct {
	FreezeTotal       *prometheus.CounterVec
	ThawTotal         *prometheus.CounterVec
	TasksCreated      *prometheus.CounterVec
	AuthFailures      prometheus.Counter
	OpenFreezeWindows prometheus.Gauge
	FreezeDuration    prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the agent collectors, plus the Go and process collectors,
// on reg.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		FreezeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "freeze_total",
			Help:      "Freeze attempts by result.",
		}, []string{"result"}),
		ThawTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thaw_total",
			Help:      "Thaw attempts by trigger (commit, reconcile, abort, orphan) and result.",
		}, []string{"trigger", "result"}),
		TasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_tasks_created_total",
			Help:      "Snapshot tasks created by operation.",
		}, []string{"operation"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected credentials.",
		}),
		OpenFreezeWindows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_freeze_windows",
			Help:      "Freeze windows currently open in the database.",
		}),
		FreezeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "freeze_duration_seconds",
			Help:      "Time from freeze request to commit, settle interval included.",
			Buckets:   []float64{1, 5, 15, 30, 60, 75, 90, 120, 300},
		}),
		gatherer: reg,
	}
}

// NewNop returns collectors registered on a private registry; useful in tests.
func NewNop() *Registry {
	return New(prometheus.NewRegistry())
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (r *Registry) RecordFreeze(err error, elapsed time.Duration) {
	r.FreezeTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		r.FreezeDuration.Observe(elapsed.Seconds())
	}
}

func (r *Registry) RecordThaw(trigger string, err error) {
	r.ThawTotal.WithLabelValues(trigger, result(err)).Inc()
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
