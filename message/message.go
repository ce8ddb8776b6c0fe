package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/messagecenter/errors"
)

// Priority bounds for the informational priority field. Priority is
// validated metadata only and never reorders delivery.
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 5
)

// Message is the envelope traveling the bus. Payload is opaque to the bus;
// routing uses only the envelope fields. A Message with a Target is
// addressed to a single module, one with a Topic belongs to a publication,
// and one with neither is a broadcast candidate.
//
// Messages are created with New and configured through functional options:
//
//	// Simple broadcast message
//	msg := message.New("status.update", "scheduler", payload)
//
//	// Directly targeted request carrying a correlation id
//	msg := message.New("ping", "scheduler", nil,
//	    message.WithTarget("worker-1"),
//	    message.WithCorrelationID(uuid.New().String()))
type Message struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Source        string            `json:"source"`
	Target        string            `json:"target,omitempty"`
	Topic         string            `json:"topic,omitempty"`
	Payload       any               `json:"payload,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	TTL           time.Duration     `json:"ttl,omitempty"`
	Priority      int               `json:"priority"`
}

// Option is a functional option for configuring Message construction.
type Option func(*Message)

// WithTarget addresses the message to a single module.
func WithTarget(target string) Option {
	return func(m *Message) {
		m.Target = target
	}
}

// WithTopic marks the message as belonging to a topic publication.
func WithTopic(topic string) Option {
	return func(m *Message) {
		m.Topic = topic
	}
}

// WithCorrelationID links the message to a request/response exchange.
func WithCorrelationID(id string) Option {
	return func(m *Message) {
		m.CorrelationID = id
	}
}

// WithTTL bounds the message age; an expired message is never delivered.
func WithTTL(ttl time.Duration) Option {
	return func(m *Message) {
		m.TTL = ttl
	}
}

// WithPriority sets the informational priority (0-9).
func WithPriority(priority int) Option {
	return func(m *Message) {
		m.Priority = priority
	}
}

// WithMetadata attaches free-form string metadata.
func WithMetadata(metadata map[string]string) Option {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

// WithTimestamp sets a specific creation timestamp instead of time.Now().
// Useful for replayed data or testing.
func WithTimestamp(ts time.Time) Option {
	return func(m *Message) {
		m.Timestamp = ts
	}
}

// New creates a Message with a generated id, the current timestamp, and the
// default priority, then applies the given options.
func New(msgType, source string, payload any, opts ...Option) *Message {
	m := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  DefaultPriority,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Validate performs comprehensive validation of the envelope. Required
// fields must be present, and optional fields, when present, must be
// non-empty, positive, or in range.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "id presence check")
	}
	if m.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "type presence check")
	}
	if m.Source == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "source presence check")
	}
	if m.Timestamp.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "timestamp presence check")
	}
	if m.TTL < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("ttl %s is negative: %w", m.TTL, errors.ErrInvalidMessage),
			"Message", "Validate", "ttl range check")
	}
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return errors.WrapInvalid(
			fmt.Errorf("priority %d outside valid range %d-%d: %w",
				m.Priority, MinPriority, MaxPriority, errors.ErrInvalidMessage),
			"Message", "Validate", "priority range check")
	}
	for key := range m.Metadata {
		if key == "" {
			return errors.WrapInvalid(
				fmt.Errorf("empty metadata key: %w", errors.ErrInvalidMessage),
				"Message", "Validate", "metadata key check")
		}
	}
	return nil
}

// Expired reports whether the message's TTL has elapsed relative to now.
// Messages without a TTL never expire.
func (m *Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.Timestamp) > m.TTL
}

// RemainingTTL returns how long the message remains deliverable, zero when
// already expired, and a negative value when no TTL is set.
func (m *Message) RemainingTTL(now time.Time) time.Duration {
	if m.TTL <= 0 {
		return -1
	}
	remaining := m.TTL - now.Sub(m.Timestamp)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RequiresResponse reports whether the message expects a correlated response.
func (m *Message) RequiresResponse() bool {
	return m.CorrelationID != ""
}

// Clone returns a deep copy of the envelope. Payload is shared, not copied;
// the bus treats it as opaque and immutable.
func (m *Message) Clone() *Message {
	clone := *m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
