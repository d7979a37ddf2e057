package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PassesTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_passes_total", Help: "Control loop passes by outcome"}, []string{"outcome"})
	PassDuration   = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scheduler_pass_duration_seconds", Help: "Wall-clock duration of a control loop pass", Buckets: prometheus.DefBuckets})
	NodeTransition = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_node_transitions_total", Help: "Node status writes"}, []string{"to"})
	JobTransition  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_job_transitions_total", Help: "Job status writes"}, []string{"from", "to"})
	DispatchTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_dispatch_total", Help: "Dispatch attempts by result"}, []string{"result"})
	ProbeFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_probe_failures_total", Help: "Failed worker health probes"})
	ReachableNodes = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scheduler_reachable_nodes", Help: "Nodes that answered the last probe-all step"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PassesTotal,
			PassDuration,
			NodeTransition,
			JobTransition,
			DispatchTotal,
			ProbeFailures,
			ReachableNodes,
		)
	})
	return promhttp.Handler()
}

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
