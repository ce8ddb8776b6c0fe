// Package request tracks in-flight correlated requests. Each pending
// request occupies exactly one slot keyed by correlation id, guarded by a
// deadline timer. Every settlement path removes the slot and cancels the
// timer together, so exactly one outcome ever reaches the caller.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/messagecenter/errors"
	"github.com/c360/messagecenter/message"
)

// Callback receives the terminal response of an asynchronously created
// request. Timeouts and rejections arrive as synthesized failure responses.
type Callback func(*message.Response)

type result struct {
	resp *message.Response
	err  error
}

// Future is the settlement handle returned by Create. Wait blocks until
// the request settles or the context is done.
type Future struct {
	ch chan result
}

// Wait returns the request's terminal outcome. It may be called once; the
// outcome channel holds a single result.
func (f *Future) Wait(ctx context.Context) (*message.Response, error) {
	select {
	case r := <-f.ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type slot struct {
	correlationID string
	origin        string
	target        string
	timeout       time.Duration
	createdAt     time.Time
	timer         *time.Timer
	deliver       func(*message.Response, error)
}

// Manager owns the pending-request table. All mutation happens under one
// mutex; the goroutine that removes a slot is the only one that delivers
// its outcome.
type Manager struct {
	pending map[string]*slot
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewManager creates an empty request manager. A nil logger falls back to
// slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pending: make(map[string]*slot),
		logger:  logger,
	}
}

// Create registers a pending slot for the correlation id and returns a
// Future that settles on resolve, reject, or timeout. At most one slot may
// exist per correlation id; a second Create for the same id fails.
func (m *Manager) Create(correlationID, origin, target string, timeout time.Duration) (*Future, error) {
	future := &Future{ch: make(chan result, 1)}
	deliver := func(resp *message.Response, err error) {
		future.ch <- result{resp: resp, err: err}
	}
	if err := m.add(correlationID, origin, target, timeout, deliver); err != nil {
		return nil, err
	}
	return future, nil
}

// CreateAsync registers a pending slot whose outcome is delivered to the
// callback. Timeouts and rejections are synthesized into failure responses
// so the callback always observes a definitive settlement.
func (m *Manager) CreateAsync(correlationID, origin, target string, timeout time.Duration, callback Callback) error {
	if callback == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil callback for request %s", correlationID),
			"Manager", "CreateAsync", "callback validation")
	}
	deliver := func(resp *message.Response, err error) {
		if err != nil {
			resp = &message.Response{
				CorrelationID: correlationID,
				Success:       false,
				Error:         err.Error(),
				Timestamp:     time.Now(),
			}
		}
		callback(resp)
	}
	return m.add(correlationID, origin, target, timeout, deliver)
}

func (m *Manager) add(correlationID, origin, target string, timeout time.Duration,
	deliver func(*message.Response, error)) error {
	if correlationID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Manager", "add", "correlation id validation")
	}
	if timeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("non-positive timeout %s for request %s", timeout, correlationID),
			"Manager", "add", "timeout validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[correlationID]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("request '%s' is already pending", correlationID),
			"Manager", "add", "duplicate request check")
	}

	s := &slot{
		correlationID: correlationID,
		origin:        origin,
		target:        target,
		timeout:       timeout,
		createdAt:     time.Now(),
		deliver:       deliver,
	}
	s.timer = time.AfterFunc(timeout, func() {
		m.expire(correlationID)
	})
	m.pending[correlationID] = s

	return nil
}

// take removes and returns the slot, stopping its timer. The caller owns
// delivery of the outcome. Returns nil if the slot already settled.
func (m *Manager) take(correlationID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.pending[correlationID]
	if !exists {
		return nil
	}
	delete(m.pending, correlationID)
	s.timer.Stop()
	return s
}

func (m *Manager) expire(correlationID string) {
	s := m.take(correlationID)
	if s == nil {
		// Settled between timer fire and lock acquisition.
		return
	}
	m.logger.Warn("request timed out",
		"correlation_id", correlationID,
		"timeout", s.timeout,
		"target", s.target)
	s.deliver(nil, &errors.TimeoutError{CorrelationID: correlationID, Timeout: s.timeout})
}

// Resolve settles the pending request with a response and reports whether a
// slot was found. Late resolutions against a settled slot are no-ops.
func (m *Manager) Resolve(correlationID string, resp *message.Response) bool {
	s := m.take(correlationID)
	if s == nil {
		return false
	}
	s.deliver(resp, nil)
	return true
}

// Reject settles the pending request with an error and reports whether a
// slot was found. Late rejections against a settled slot are no-ops.
func (m *Manager) Reject(correlationID string, err error) bool {
	s := m.take(correlationID)
	if s == nil {
		return false
	}
	s.deliver(nil, err)
	return true
}

// HasPending reports whether a slot exists for the correlation id
func (m *Manager) HasPending(correlationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.pending[correlationID]
	return exists
}

// PendingCount returns the number of in-flight requests
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// ResponseTime returns how long the given request has been pending.
// The second return is false when no slot exists.
func (m *Manager) ResponseTime(correlationID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.pending[correlationID]
	if !exists {
		return 0, false
	}
	return time.Since(s.createdAt), true
}

// PendingIDs returns the correlation ids of all in-flight requests
func (m *Manager) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll rejects and removes every pending slot with the given error.
// Used by bus teardown. Returns the number of cancelled requests.
func (m *Manager) CancelAll(err error) int {
	return m.cancelWhere(func(*slot) bool { return true }, err)
}

// CancelFor rejects and removes pending slots that involve the given
// module as either origin or target. Used when a module unregisters.
func (m *Manager) CancelFor(moduleID string, err error) int {
	return m.cancelWhere(func(s *slot) bool {
		return s.origin == moduleID || s.target == moduleID
	}, err)
}

// CleanupExpired defensively sweeps slots older than maxAge whose timers
// failed to fire. Returns the number of removed slots.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	return m.cancelWhere(func(s *slot) bool {
		return s.createdAt.Before(cutoff)
	}, errors.ErrRequestTimeout)
}

func (m *Manager) cancelWhere(match func(*slot) bool, err error) int {
	m.mu.Lock()
	var cancelled []*slot
	for id, s := range m.pending {
		if match(s) {
			delete(m.pending, id)
			s.timer.Stop()
			cancelled = append(cancelled, s)
		}
	}
	m.mu.Unlock()

	for _, s := range cancelled {
		s.deliver(nil, err)
	}
	return len(cancelled)
}
