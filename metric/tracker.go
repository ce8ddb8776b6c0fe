// Package metric tracks bus statistics: monotonic counters, a capped
// rolling response-latency sample, and uptime, with optional Prometheus
// collectors mirroring the same values.
package metric

import (
	"sync"
	"time"
)

// DefaultLatencyWindow caps the rolling response-time sample. The oldest
// sample is evicted once the window is full, bounding memory.
const DefaultLatencyWindow = 100

// Snapshot is a consistent view of the bus statistics
type Snapshot struct {
	TotalMessages       int64         `json:"total_messages"`
	TotalRequests       int64         `json:"total_requests"`
	ActiveRequests      int64         `json:"active_requests"`
	RegisteredModules   int           `json:"registered_modules"`
	MessagesDelivered   int64         `json:"messages_delivered"`
	MessagesFailed      int64         `json:"messages_failed"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Uptime              time.Duration `json:"uptime"`
}

// Tracker accumulates bus statistics. All updates are mutex-guarded so
// snapshots stay consistent under concurrent partial failure.
type Tracker struct {
	startedAt         time.Time
	totalMessages     int64
	totalRequests     int64
	activeRequests    int64
	registeredModules int
	delivered         int64
	failed            int64
	latencies         []time.Duration
	latencyWindow     int
	metrics           *Metrics // optional Prometheus mirror
	mu                sync.Mutex
}

// NewTracker creates a tracker with the given rolling latency window.
// A non-positive window falls back to DefaultLatencyWindow. The metrics
// mirror may be nil.
func NewTracker(latencyWindow int, metrics *Metrics) *Tracker {
	if latencyWindow <= 0 {
		latencyWindow = DefaultLatencyWindow
	}
	return &Tracker{
		startedAt:     time.Now(),
		latencies:     make([]time.Duration, 0, latencyWindow),
		latencyWindow: latencyWindow,
		metrics:       metrics,
	}
}

// RecordMessage counts one message accepted by the bus
func (t *Tracker) RecordMessage() {
	t.mu.Lock()
	t.totalMessages++
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.MessagesTotal.Inc()
	}
}

// RecordRequest counts one correlated request
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	t.totalRequests++
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RequestsTotal.Inc()
	}
}

// RecordDelivered counts one successful delivery
func (t *Tracker) RecordDelivered() {
	t.mu.Lock()
	t.delivered++
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.MessagesDelivered.Inc()
	}
}

// RecordFailed counts one failed delivery or dropped message
func (t *Tracker) RecordFailed() {
	t.mu.Lock()
	t.failed++
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.MessagesFailed.Inc()
	}
}

// SetActiveRequests records the current in-flight request count
func (t *Tracker) SetActiveRequests(n int) {
	t.mu.Lock()
	t.activeRequests = int64(n)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ActiveRequests.Set(float64(n))
	}
}

// SetRegisteredModules records the current module count
func (t *Tracker) SetRegisteredModules(n int) {
	t.mu.Lock()
	t.registeredModules = n
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RegisteredModules.Set(float64(n))
	}
}

// RecordResponseTime adds one response latency sample, evicting the oldest
// once the window is full.
func (t *Tracker) RecordResponseTime(d time.Duration) {
	t.mu.Lock()
	if len(t.latencies) >= t.latencyWindow {
		t.latencies = t.latencies[1:]
	}
	t.latencies = append(t.latencies, d)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ResponseDuration.Observe(d.Seconds())
	}
}

// Snapshot returns a consistent view of the current statistics
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var avg time.Duration
	if len(t.latencies) > 0 {
		var sum time.Duration
		for _, d := range t.latencies {
			sum += d
		}
		avg = sum / time.Duration(len(t.latencies))
	}

	return Snapshot{
		TotalMessages:       t.totalMessages,
		TotalRequests:       t.totalRequests,
		ActiveRequests:      t.activeRequests,
		RegisteredModules:   t.registeredModules,
		MessagesDelivered:   t.delivered,
		MessagesFailed:      t.failed,
		AverageResponseTime: avg,
		Uptime:              time.Since(t.startedAt),
	}
}

// Reset clears the counters and the latency sample and restarts the uptime
// clock. The Prometheus mirror keeps its monotonic counters; only the
// snapshot view resets.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startedAt = time.Now()
	t.totalMessages = 0
	t.totalRequests = 0
	t.activeRequests = 0
	t.delivered = 0
	t.failed = 0
	t.latencies = t.latencies[:0]
}
