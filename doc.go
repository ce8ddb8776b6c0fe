// Package messagecenter provides an in-process message bus for
// independently developed modules sharing one address space.
//
// # Overview
//
// Modules register a handler under a unique id and exchange one-way
// messages, broadcasts, topic publications, and correlated request/response
// pairs with timeout enforcement. The bus is a coordination layer, not a
// transport: there is no network surface, no persistence, and no ordering
// guarantee across unrelated correlation ids.
//
// The public API lives in the center package:
//
//	bus, err := center.New(center.WithLogger(logger))
//	if err != nil { ... }
//	defer bus.Destroy()
//
//	bus.RegisterModule("worker", module.HandlerFunc(
//	    func(ctx context.Context, msg *message.Message) (*message.Response, error) {
//	        return message.NewResponse(msg, "done"), nil
//	    }))
//
//	resp, err := bus.SendRequest(ctx,
//	    message.New("job.run", "scheduler", job, message.WithTarget("worker")),
//	    5*time.Second)
//
// # Architecture
//
// One orchestrator composes five leaves:
//
//   - module:    id to handler registry, lifecycle callbacks
//   - request:   pending correlated requests with deadline timers
//   - processor: stateless validation and delivery mechanics
//   - topic:     topic and wildcard subscription tables
//   - metric:    counters, rolling latency sample, Prometheus collectors
//
// Callers never block on delivery. Every send, broadcast, and publish
// returns after synchronous bookkeeping and schedules handler invocation
// asynchronously; fan-out deliveries are concurrent and isolated, and a
// message never reaches its own source.
//
// # Delivery guarantees
//
// A message reaches each eligible recipient at most once. A correlated
// request settles exactly once: with the target's response, with a
// delivery error, or with a timeout. Unregistering a module rejects the
// requests it is involved in and purges its subscriptions.
package messagecenter
