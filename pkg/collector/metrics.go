package collector

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors exported by the trace collector.
type Metrics struct {
	// traces is the number of active traces
	traces prometheus.Gauge

	// points is the total number of retained points
	points prometheus.Gauge

	// updates counts Update messages by result (created, updated)
	updates *prometheus.CounterVec

	// evictions counts removed traces by reason (destroy, clean)
	evictions *prometheus.CounterVec
}

// NewMetrics creates the collector metrics and registers them on reg.
// A nil reg leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		traces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adstrace_traces",
			Help: "Number of active aircraft traces",
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adstrace_trace_points",
			Help: "Total retained points across all traces",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adstrace_updates_total",
			Help: "Position updates handled by result",
		}, []string{"result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adstrace_evictions_total",
			Help: "Traces removed by reason",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.traces, m.points, m.updates, m.evictions)
	}
	return m
}

func (m *Metrics) observeSize(traces, points int) {
	if m == nil {
		return
	}
	m.traces.Set(float64(traces))
	m.points.Set(float64(points))
}

func (m *Metrics) observeUpdate(created bool) {
	if m == nil {
		return
	}
	if created {
		m.updates.WithLabelValues("created").Inc()
		return
	}
	m.updates.WithLabelValues("updated").Inc()
}

func (m *Metrics) observeEviction(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}
