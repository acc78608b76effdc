package history

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors exported by the history loader.
type Metrics struct {
	chunks  *prometheus.CounterVec
	records *prometheus.CounterVec
}

// NewMetrics creates the loader metrics and registers them on reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adstrace_history_chunks_total",
			Help: "History chunk fetches by result",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adstrace_history_records_total",
			Help: "History records by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.chunks, m.records)
	}
	return m
}

func (m *Metrics) observeChunk(result string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRecord(result string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(result).Inc()
}
