package s7

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors a Session/Pool can be wired
// to. A nil *Metrics disables instrumentation everywhere it is used —
// every call site on Session/Pool nil-checks before touching it.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	roundTripSeconds *prometheus.HistogramVec
	openSessions     prometheus.Gauge
}

// NewMetrics registers the collectors with reg and returns the bundle.
// Registration uses MustRegister, so a second call with the same reg
// panics; call it once per registry and share the returned *Metrics
// across Sessions and Pools.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s7",
			Name:      "requests_total",
			Help:      "Total S7 read/write operations by operation and result.",
		}, []string{"op", "result"}),
		roundTripSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "s7",
			Name:      "round_trip_seconds",
			Help:      "S7 read/write operation latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "s7",
			Name:      "open_sessions",
			Help:      "Number of currently open S7 sessions.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.roundTripSeconds, m.openSessions)
	return m
}

func (m *Metrics) observeRoundTrip(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requestsTotal.WithLabelValues(op, result).Inc()
	m.roundTripSeconds.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}
