package center

import (
	"fmt"
	"time"
)

// Health states reported by the bus
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// degradedFailureRatio is the delivery failure share above which the bus
// reports degraded. Failures below the threshold are expected noise from
// departing targets and expiring messages.
const degradedFailureRatio = 0.5

// HealthStatus describes the bus's operational state
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
}

// Health derives a health status from the current statistics. A destroyed
// bus is unhealthy, one whose deliveries mostly fail is degraded, and
// everything else is healthy.
func (c *MessageCenter) Health() HealthStatus {
	now := time.Now()

	if c.closed.Load() {
		return HealthStatus{
			Healthy:   false,
			Status:    StatusUnhealthy,
			Message:   "message center destroyed",
			Timestamp: now,
		}
	}

	snap := c.Stats()
	status := HealthStatus{
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: now,
		Uptime:    snap.Uptime,
	}

	attempted := snap.MessagesDelivered + snap.MessagesFailed
	if attempted > 0 {
		ratio := float64(snap.MessagesFailed) / float64(attempted)
		if ratio > degradedFailureRatio {
			status.Healthy = false
			status.Status = StatusDegraded
			status.Message = fmt.Sprintf("%.0f%% of deliveries failing", ratio*100)
		}
	}

	return status
}
