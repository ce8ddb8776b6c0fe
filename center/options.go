package center

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRequestTimeout bounds correlated requests that do not specify
// their own timeout.
const DefaultRequestTimeout = 30 * time.Second

// Option is a functional option for configuring MessageCenter construction.
type Option func(*MessageCenter)

// WithLogger sets the structured logger used by the bus and its leaves.
func WithLogger(logger *slog.Logger) Option {
	return func(c *MessageCenter) {
		c.logger = logger
	}
}

// WithDefaultTimeout overrides DefaultRequestTimeout for requests created
// without an explicit timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *MessageCenter) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithLatencyWindow caps the rolling response-time sample used for the
// average in Stats.
func WithLatencyWindow(window int) Option {
	return func(c *MessageCenter) {
		c.latencyWindow = window
	}
}

// WithMetricsRegistry registers the bus's Prometheus collectors with the
// given registerer. Without this option the bus keeps snapshot statistics
// only.
func WithMetricsRegistry(registerer prometheus.Registerer) Option {
	return func(c *MessageCenter) {
		c.metricsRegisterer = registerer
	}
}
