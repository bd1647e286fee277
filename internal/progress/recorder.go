package progress

import "github.com/prometheus/client_golang/prometheus"

// MetricsSink exports progress events as Prometheus metrics. Components that
// do not need metrics keep the default NopSink; swapping in a MetricsSink
// requires no other code changes.
type MetricsSink struct {
	nodesOpened    prometheus.Counter
	nodesClosed    prometheus.Counter
	unitsCompleted prometheus.Counter
	openNodes      prometheus.Gauge
}

// NewMetricsSink creates a MetricsSink and registers its collectors with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		nodesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagekiln_progress_nodes_opened_total",
			Help: "Progress tree nodes opened across all builds.",
		}),
		nodesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagekiln_progress_nodes_closed_total",
			Help: "Progress tree nodes closed across all builds.",
		}),
		unitsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagekiln_progress_units_completed_total",
			Help: "Progress units reported complete across all builds.",
		}),
		openNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagekiln_progress_open_nodes",
			Help: "Progress tree nodes currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.nodesOpened, s.nodesClosed, s.unitsCompleted, s.openNodes)
	}
	return s
}

// Publish implements Sink.
func (s *MetricsSink) Publish(e Event) {
	switch e.Kind {
	case EventOpened:
		s.nodesOpened.Inc()
		s.openNodes.Inc()
	case EventAdvanced:
		s.unitsCompleted.Add(float64(e.Units))
	case EventClosed:
		s.nodesClosed.Inc()
		s.openNodes.Dec()
		s.unitsCompleted.Add(float64(e.Units))
	}
}
