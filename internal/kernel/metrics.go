package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes kernel operation counters and gauges.
type Metrics struct {
	// CallsTotal counts tool calls by provider, tool, and outcome status.
	CallsTotal *prometheus.CounterVec

	// CallDuration tracks end-to-end call latency.
	CallDuration *prometheus.HistogramVec

	// DenialsTotal counts calls blocked by the permission gate.
	DenialsTotal prometheus.Counter

	// PendingActions is the number of proposals awaiting confirmation.
	PendingActions prometheus.Gauge

	// ActiveSessions is the number of live sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers the kernel metrics with reg. A nil registerer gets
// a private throwaway registry so instrumentation stays unconditional.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toolplane_calls_total",
			Help: "Total number of tool calls by outcome.",
		}, []string{"provider", "tool", "status"}),

		CallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolplane_call_duration_seconds",
			Help:    "Histogram of end-to-end tool call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider", "tool"}),

		DenialsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "toolplane_denials_total",
			Help: "Total number of calls blocked by the permission gate.",
		}),

		PendingActions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "toolplane_pending_actions",
			Help: "Number of side-effecting calls awaiting confirmation.",
		}),

		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "toolplane_active_sessions",
			Help: "Number of live sessions.",
		}),
	}
}
