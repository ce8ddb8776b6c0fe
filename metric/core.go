package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the Prometheus collectors for the bus. They mirror the
// Tracker's snapshot counters so operators can scrape what callers read
// programmatically.
type Metrics struct {
	MessagesTotal     prometheus.Counter
	RequestsTotal     prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesFailed    prometheus.Counter
	RegisteredModules prometheus.Gauge
	ActiveRequests    prometheus.Gauge
	ResponseDuration  prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all bus collectors
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "messagecenter",
				Subsystem: "messages",
				Name:      "total",
				Help:      "Total number of messages accepted by the bus",
			},
		),

		RequestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "messagecenter",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of correlated requests created",
			},
		),

		MessagesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "messagecenter",
				Subsystem: "messages",
				Name:      "delivered_total",
				Help:      "Total number of successful deliveries",
			},
		),

		MessagesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "messagecenter",
				Subsystem: "messages",
				Name:      "failed_total",
				Help:      "Total number of failed deliveries, validation failures included",
			},
		),

		RegisteredModules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "messagecenter",
				Subsystem: "modules",
				Name:      "registered",
				Help:      "Number of currently registered modules",
			},
		),

		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "messagecenter",
				Subsystem: "requests",
				Name:      "active",
				Help:      "Number of in-flight correlated requests",
			},
		),

		ResponseDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "messagecenter",
				Subsystem: "requests",
				Name:      "response_duration_seconds",
				Help:      "Request response time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// Register registers all collectors with the given registerer
func (m *Metrics) Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.MessagesTotal,
		m.RequestsTotal,
		m.MessagesDelivered,
		m.MessagesFailed,
		m.RegisteredModules,
		m.ActiveRequests,
		m.ResponseDuration,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
