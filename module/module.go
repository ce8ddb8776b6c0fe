// Package module defines the module handler contract and the registry that
// maps module ids to handlers. The registry is the authoritative source of
// module liveness for the rest of the bus.
package module

import (
	"context"

	"github.com/c360/messagecenter/message"
)

// Handler is the narrow contract every registered module must satisfy:
// process a message, optionally produce a response. Returning a nil
// Response with a nil error is a valid outcome for fire-and-forget
// messages. Handle is invoked from the bus's delivery goroutines, never
// from the caller's stack.
type Handler interface {
	Handle(ctx context.Context, msg *message.Message) (*message.Response, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *message.Message) (*message.Response, error)

// Handle implements the Handler interface
func (f HandlerFunc) Handle(ctx context.Context, msg *message.Message) (*message.Response, error) {
	return f(ctx, msg)
}
