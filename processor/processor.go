// Package processor implements the stateless delivery mechanics of the bus:
// validation, sanitization, expiry checks, single-target delivery, and
// concurrent fan-out. It holds no routing state; the orchestrator supplies
// handlers and fan-out sets per call.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/messagecenter/errors"
	"github.com/c360/messagecenter/message"
	"github.com/c360/messagecenter/module"
)

// DeliverFunc delivers a message to one handler and returns its response.
type DeliverFunc func(ctx context.Context, msg *message.Message, moduleID string, handler module.Handler) (*message.Response, error)

// BroadcastFunc fans a message out to every eligible recipient.
type BroadcastFunc func(ctx context.Context, msg *message.Message) error

// OutcomeFunc observes the result of one fan-out delivery.
type OutcomeFunc func(moduleID string, resp *message.Response, err error)

// Processor is stateless; a single instance is safe for concurrent use.
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a processor. A nil logger falls back to slog.Default().
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Validate enforces the envelope invariants. Invalid messages are never
// delivered.
func (p *Processor) Validate(msg *message.Message) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Processor", "Validate", "nil message check")
	}
	return msg.Validate()
}

// Sanitize returns a copy of the message with genuinely absent fields
// filled in: a missing id is generated and a zero timestamp is stamped.
// Present-but-invalid values are never repaired here; they are left intact
// for Validate to reject.
func (p *Processor) Sanitize(msg *message.Message) *message.Message {
	if msg == nil {
		return nil
	}
	clean := msg.Clone()
	if clean.ID == "" {
		clean.ID = uuid.New().String()
	}
	if clean.Timestamp.IsZero() {
		clean.Timestamp = time.Now()
	}
	return clean
}

// IsExpired reports whether the message's TTL has elapsed
func (p *Processor) IsExpired(msg *message.Message) bool {
	return msg.Expired(time.Now())
}

// Process routes a single message. Expired messages fail with
// ErrMessageExpired. A targeted message with no resolved handler fails with
// ErrTargetNotFound, one with a handler goes through the deliver function
// (nil falls back to Deliver), and an untargeted message is delegated to
// the broadcast function.
func (p *Processor) Process(ctx context.Context, msg *message.Message,
	handler module.Handler, deliver DeliverFunc, broadcast BroadcastFunc) (*message.Response, error) {
	if p.IsExpired(msg) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("message %s ttl %s elapsed: %w", msg.ID, msg.TTL, errors.ErrMessageExpired),
			"Processor", "Process", "ttl check")
	}

	if msg.Target != "" {
		if handler == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("target '%s' for message %s: %w", msg.Target, msg.ID, errors.ErrTargetNotFound),
				"Processor", "Process", "target resolution")
		}
		if deliver == nil {
			deliver = p.Deliver
		}
		return deliver(ctx, msg, msg.Target, handler)
	}

	if broadcast == nil {
		return nil, nil
	}
	return nil, broadcast(ctx, msg)
}

// Deliver invokes one handler with the message. Handler errors and panics
// are wrapped as DeliveryError for that recipient only.
func (p *Processor) Deliver(ctx context.Context, msg *message.Message,
	moduleID string, handler module.Handler) (resp *message.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				"module", moduleID,
				"message_id", msg.ID,
				"panic", r)
			resp = nil
			err = &errors.DeliveryError{ModuleID: moduleID, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	resp, err = handler.Handle(ctx, msg)
	if err != nil {
		return nil, &errors.DeliveryError{ModuleID: moduleID, Err: err}
	}
	return resp, nil
}

// Broadcast fans the message out concurrently to every handler except the
// message's own source. Each delivery is isolated: one failure never
// affects the others, and completion does not require every delivery to
// succeed. The outcome callback, when non-nil, observes each delivery.
// Broadcast blocks until all deliveries finish.
func (p *Processor) Broadcast(ctx context.Context, msg *message.Message,
	handlers map[string]module.Handler, deliver DeliverFunc, outcome OutcomeFunc) {
	if deliver == nil {
		deliver = p.Deliver
	}

	g := new(errgroup.Group)
	for id, handler := range handlers {
		if id == msg.Source {
			continue
		}
		id, handler := id, handler
		g.Go(func() error {
			resp, err := deliver(ctx, msg, id, handler)
			if outcome != nil {
				outcome(id, resp, err)
			}
			// Failures are reported through the outcome callback, never
			// allowed to cancel sibling deliveries.
			return nil
		})
	}
	_ = g.Wait()
}

// Priority returns the message priority clamped to the valid range.
func (p *Processor) Priority(msg *message.Message) int {
	if msg.Priority < message.MinPriority {
		return message.MinPriority
	}
	if msg.Priority > message.MaxPriority {
		return message.MaxPriority
	}
	return msg.Priority
}

// RemainingTTL returns how long the message remains deliverable
func (p *Processor) RemainingTTL(msg *message.Message) time.Duration {
	return msg.RemainingTTL(time.Now())
}

// RequiresResponse reports whether the message expects a correlated response
func (p *Processor) RequiresResponse(msg *message.Message) bool {
	return msg.RequiresResponse()
}

// NewResponse creates a successful response to the given message
func (p *Processor) NewResponse(msg *message.Message, data any) *message.Response {
	return message.NewResponse(msg, data)
}
