// Package center assembles the bus: the module registry, request manager,
// message processor, topic subscriptions, and statistics tracker composed
// behind one coordination point. Construct one MessageCenter per process
// and inject it into modules explicitly; an implicit global would defeat
// testability.
package center

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/messagecenter/errors"
	"github.com/c360/messagecenter/message"
	"github.com/c360/messagecenter/metric"
	"github.com/c360/messagecenter/module"
	"github.com/c360/messagecenter/processor"
	"github.com/c360/messagecenter/request"
	"github.com/c360/messagecenter/topic"
)

// Lifecycle message types broadcast by the bus itself
const (
	TypeModuleRegistered   = "module_registered"
	TypeModuleUnregistered = "module_unregistered"
)

// lifecycleSource is the source id stamped on lifecycle broadcasts. It is
// never a registered module, so every module receives them.
const lifecycleSource = "message-center"

// MessageCenter is the process-wide coordination point. Callers never block
// on delivery: every send, broadcast, and publish returns after synchronous
// bookkeeping and schedules handler invocation on its own goroutine.
// Delivery to any single module is serialized; modules are handled in
// parallel with respect to each other.
type MessageCenter struct {
	registry  *module.Registry
	requests  *request.Manager
	processor *processor.Processor
	topics    *topic.Manager
	stats     *metric.Tracker
	logger    *slog.Logger
	closed    atomic.Bool

	// Per-recipient delivery locks. A module's handler is never invoked
	// concurrently with itself; deliveries to distinct modules proceed in
	// parallel.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	defaultTimeout    time.Duration
	latencyWindow     int
	metricsRegisterer prometheus.Registerer
}

// New creates a MessageCenter and wires its leaves together.
func New(opts ...Option) (*MessageCenter, error) {
	c := &MessageCenter{
		defaultTimeout: DefaultRequestTimeout,
		latencyWindow:  metric.DefaultLatencyWindow,
		locks:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	var metrics *metric.Metrics
	if c.metricsRegisterer != nil {
		metrics = metric.NewMetrics()
		if err := metrics.Register(c.metricsRegisterer); err != nil {
			return nil, errors.Wrap(err, "MessageCenter", "New", "metrics registration")
		}
	}

	c.registry = module.NewRegistry()
	c.requests = request.NewManager(c.logger)
	c.processor = processor.NewProcessor(c.logger)
	c.topics = topic.NewManager(c.registry)
	c.stats = metric.NewTracker(c.latencyWindow, metrics)

	c.registry.SetCallbacks(c.onModuleRegistered, c.onModuleUnregistered)

	return c, nil
}

// onModuleRegistered runs out-of-band after a successful registration.
func (c *MessageCenter) onModuleRegistered(moduleID string) {
	if c.closed.Load() {
		return
	}
	c.stats.SetRegisteredModules(c.registry.Count())
	c.broadcastLifecycle(TypeModuleRegistered, moduleID)
}

// onModuleUnregistered runs out-of-band after a module is removed.
func (c *MessageCenter) onModuleUnregistered(moduleID string) {
	if c.closed.Load() {
		return
	}
	c.stats.SetRegisteredModules(c.registry.Count())
	c.broadcastLifecycle(TypeModuleUnregistered, moduleID)
}

func (c *MessageCenter) broadcastLifecycle(msgType, moduleID string) {
	msg := message.New(msgType, lifecycleSource, map[string]string{"module_id": moduleID})
	c.stats.RecordMessage()
	c.fanOut(context.Background(), msg)
}

// RegisterModule registers a handler under the given id. Registering a
// duplicate id fails immediately. A module_registered notification is
// broadcast out-of-band.
func (c *MessageCenter) RegisterModule(id string, handler module.Handler) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "RegisterModule", "lifecycle check")
	}
	if err := c.registry.Register(id, handler); err != nil {
		return err
	}
	c.logger.Debug("module registered", "module", id)
	return nil
}

// UnregisterModule removes the module and reports whether it existed.
// Pending requests that involve the module (as origin or target) are
// rejected with a descriptive error, its topic and wildcard memberships
// are purged, and a module_unregistered notification is broadcast.
func (c *MessageCenter) UnregisterModule(id string) bool {
	if c.closed.Load() {
		return false
	}
	removed := c.registry.Unregister(id)
	if !removed {
		return false
	}

	cancelErr := errors.WrapTransient(
		fmt.Errorf("module '%s' unregistered while request pending", id),
		"MessageCenter", "UnregisterModule", "pending request cancellation")
	if n := c.requests.CancelFor(id, cancelErr); n > 0 {
		c.logger.Debug("cancelled pending requests", "module", id, "count", n)
	}
	c.stats.SetActiveRequests(c.requests.PendingCount())

	c.topics.RemoveModule(id)
	c.topics.CleanupOrphans()

	c.locksMu.Lock()
	delete(c.locks, id)
	c.locksMu.Unlock()

	c.logger.Debug("module unregistered", "module", id)
	return true
}

// SendMessage validates the message and schedules asynchronous delivery.
// Validation failures are counted as failed and returned; processing
// failures after scheduling are caught and counted, never surfaced here.
func (c *MessageCenter) SendMessage(msg *message.Message) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "SendMessage", "lifecycle check")
	}

	msg = c.processor.Sanitize(msg)
	if err := c.processor.Validate(msg); err != nil {
		c.stats.RecordFailed()
		return err
	}

	c.stats.RecordMessage()
	go c.process(msg)
	return nil
}

// BroadcastMessage validates the message and schedules concurrent fan-out
// to every registered module except the source. Each delivery outcome is
// counted independently.
func (c *MessageCenter) BroadcastMessage(msg *message.Message) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "BroadcastMessage", "lifecycle check")
	}

	msg = c.processor.Sanitize(msg)
	msg.Target = ""
	if err := c.processor.Validate(msg); err != nil {
		c.stats.RecordFailed()
		return err
	}

	c.stats.RecordMessage()
	go c.fanOut(context.Background(), msg)
	return nil
}

// SendRequest sends a directly targeted message and waits for the
// correlated response, the request timeout, or ctx cancellation. A missing
// correlation id is generated. A zero or negative timeout uses the
// configured default.
func (c *MessageCenter) SendRequest(ctx context.Context, msg *message.Message,
	timeout time.Duration) (*message.Response, error) {
	future, err := c.startRequest(msg, timeout, nil)
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}

// SendRequestAsync is the callback variant of SendRequest. The callback
// always receives a definitive settlement; timeouts arrive as synthesized
// failure responses.
func (c *MessageCenter) SendRequestAsync(msg *message.Message,
	callback request.Callback, timeout time.Duration) error {
	_, err := c.startRequest(msg, timeout, callback)
	return err
}

// startRequest validates the request, creates the pending slot, and then
// hands the message to SendMessage. With a nil callback it returns a
// Future; otherwise the callback receives the outcome.
func (c *MessageCenter) startRequest(msg *message.Message, timeout time.Duration,
	callback request.Callback) (*request.Future, error) {
	if c.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "SendRequest", "lifecycle check")
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	msg = c.processor.Sanitize(msg)
	if msg == nil || msg.Target == "" {
		// Requests settle along the single-target delivery path only;
		// broadcast and topic deliveries never resolve a pending slot.
		return nil, errors.WrapInvalid(
			fmt.Errorf("request requires a target: %w", errors.ErrInvalidMessage),
			"MessageCenter", "SendRequest", "target validation")
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	if err := c.processor.Validate(msg); err != nil {
		c.stats.RecordFailed()
		return nil, err
	}

	var future *request.Future
	var err error
	if callback != nil {
		err = c.requests.CreateAsync(msg.CorrelationID, msg.Source, msg.Target, timeout, callback)
	} else {
		future, err = c.requests.Create(msg.CorrelationID, msg.Source, msg.Target, timeout)
	}
	if err != nil {
		return nil, err
	}
	c.stats.RecordRequest()
	c.stats.SetActiveRequests(c.requests.PendingCount())

	if err := c.SendMessage(msg); err != nil {
		c.requests.Reject(msg.CorrelationID, err)
		c.stats.SetActiveRequests(c.requests.PendingCount())
		return nil, err
	}

	return future, nil
}

// SubscribeToTopic subscribes the module to a topic, or to every topic
// when wildcard is true. Subscribing an unregistered module fails
// immediately.
func (c *MessageCenter) SubscribeToTopic(moduleID, topicName string, wildcard bool) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "SubscribeToTopic", "lifecycle check")
	}
	return c.topics.Subscribe(moduleID, topicName, wildcard)
}

// UnsubscribeFromTopic removes the module's membership and reports whether
// anything was removed.
func (c *MessageCenter) UnsubscribeFromTopic(moduleID, topicName string, wildcard bool) bool {
	return c.topics.Unsubscribe(moduleID, topicName, wildcard)
}

// PublishToTopic stamps the topic on the message and schedules delivery to
// every current subscriber except the source. The returned slice is the
// recipient list fixed at publish time; later subscription changes do not
// affect this publication. Per-subscriber failures are isolated and
// counted.
func (c *MessageCenter) PublishToTopic(topicName string, msg *message.Message) ([]string, error) {
	if c.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "PublishToTopic", "lifecycle check")
	}

	msg = c.processor.Sanitize(msg)
	if msg != nil {
		msg.Topic = topicName
		msg.Target = ""
	}
	if err := c.processor.Validate(msg); err != nil {
		c.stats.RecordFailed()
		return nil, err
	}
	if topicName == "" {
		c.stats.RecordFailed()
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "MessageCenter", "PublishToTopic", "topic validation")
	}

	all := c.topics.Subscribers(topicName)
	recipients := make([]string, 0, len(all))
	for _, id := range all {
		if id != msg.Source {
			recipients = append(recipients, id)
		}
	}

	c.stats.RecordMessage()
	go func() {
		ctx := context.Background()
		for _, id := range recipients {
			handler, ok := c.registry.Get(id)
			if !ok {
				// Unregistered between snapshot and delivery.
				c.stats.RecordFailed()
				continue
			}
			go func(id string, handler module.Handler) {
				if _, err := c.deliverSequenced(ctx, msg, id, handler); err != nil {
					c.stats.RecordFailed()
					c.logger.Warn("topic delivery failed",
						"topic", topicName, "module", id, "error", err)
					return
				}
				c.stats.RecordDelivered()
			}(id, handler)
		}
	}()

	return recipients, nil
}

// TopicSubscribers returns the current subscribers of a topic, wildcard
// subscribers included.
func (c *MessageCenter) TopicSubscribers(topicName string) []string {
	return c.topics.Subscribers(topicName)
}

// IsSubscribed reports wildcard-or-specific membership for the topic
func (c *MessageCenter) IsSubscribed(moduleID, topicName string) bool {
	return c.topics.IsSubscribed(moduleID, topicName)
}

// ModuleSubscriptions lists the module's explicit topics plus the wildcard
// sentinel when applicable.
func (c *MessageCenter) ModuleSubscriptions(moduleID string) []string {
	return c.topics.ModuleSubscriptions(moduleID)
}

// AllTopics returns every topic with at least one specific subscriber
func (c *MessageCenter) AllTopics() []string {
	return c.topics.Topics()
}

// SubscriptionStats returns a snapshot of the subscription tables
func (c *MessageCenter) SubscriptionStats() topic.Stats {
	return c.topics.SubscriptionStats()
}

// HasModule reports whether a module is currently registered
func (c *MessageCenter) HasModule(id string) bool {
	return c.registry.Has(id)
}

// ModuleIDs returns the ids of all registered modules
func (c *MessageCenter) ModuleIDs() []string {
	return c.registry.IDs()
}

// PendingRequests returns the number of in-flight correlated requests
func (c *MessageCenter) PendingRequests() int {
	return c.requests.PendingCount()
}

// Stats returns a consistent statistics snapshot
func (c *MessageCenter) Stats() metric.Snapshot {
	c.stats.SetActiveRequests(c.requests.PendingCount())
	c.stats.SetRegisteredModules(c.registry.Count())
	return c.stats.Snapshot()
}

// ResetStats clears the statistics counters and restarts the uptime clock
func (c *MessageCenter) ResetStats() {
	c.stats.Reset()
	c.stats.SetRegisteredModules(c.registry.Count())
	c.stats.SetActiveRequests(c.requests.PendingCount())
}

// Destroy tears the bus down: every pending request is rejected, the
// registry and subscription tables are cleared, and statistics reset.
// Destroy is terminal; subsequent operations fail with ErrCenterClosed.
func (c *MessageCenter) Destroy() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	cancelErr := errors.WrapFatal(errors.ErrCenterClosed, "MessageCenter", "Destroy", "pending request cancellation")
	if n := c.requests.CancelAll(cancelErr); n > 0 {
		c.logger.Debug("cancelled pending requests on destroy", "count", n)
	}
	c.registry.Clear()
	c.topics.Clear()
	c.locksMu.Lock()
	c.locks = make(map[string]*sync.Mutex)
	c.locksMu.Unlock()
	c.stats.Reset()
	c.stats.SetRegisteredModules(0)
	c.stats.SetActiveRequests(0)

	c.logger.Debug("message center destroyed")
}

// deliverSequenced invokes the handler while holding the recipient's
// delivery lock, serializing that module's processing across all send,
// broadcast, and publish paths.
func (c *MessageCenter) deliverSequenced(ctx context.Context, msg *message.Message,
	moduleID string, handler module.Handler) (*message.Response, error) {
	mu := c.recipientLock(moduleID)
	mu.Lock()
	defer mu.Unlock()
	return c.processor.Deliver(ctx, msg, moduleID, handler)
}

func (c *MessageCenter) recipientLock(moduleID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	mu, ok := c.locks[moduleID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[moduleID] = mu
	}
	return mu
}

// process routes one message on its own goroutine. Delivery failures are
// converted to statistics and, for correlated requests, into a rejection of
// the pending slot; none escape.
func (c *MessageCenter) process(msg *message.Message) {
	ctx := context.Background()

	var handler module.Handler
	if msg.Target != "" {
		handler, _ = c.registry.Get(msg.Target)
	}

	resp, err := c.processor.Process(ctx, msg, handler, c.deliverSequenced, c.asBroadcast)
	if err != nil {
		c.stats.RecordFailed()
		c.logger.Warn("message processing failed",
			"message_id", msg.ID, "type", msg.Type, "target", msg.Target, "error", err)
		if msg.Target != "" && msg.RequiresResponse() {
			c.requests.Reject(msg.CorrelationID, err)
			c.stats.SetActiveRequests(c.requests.PendingCount())
		}
		return
	}

	if msg.Target == "" {
		// Fan-out outcomes were counted per recipient in asBroadcast.
		return
	}

	c.stats.RecordDelivered()
	if msg.RequiresResponse() && resp != nil {
		// Response attribution: feed the handler's response back into the
		// pending slot for the same correlation id.
		if elapsed, ok := c.requests.ResponseTime(msg.CorrelationID); ok {
			c.stats.RecordResponseTime(elapsed)
		}
		c.requests.Resolve(msg.CorrelationID, resp)
		c.stats.SetActiveRequests(c.requests.PendingCount())
	}
}

// asBroadcast adapts fanOut to the processor's BroadcastFunc
func (c *MessageCenter) asBroadcast(ctx context.Context, msg *message.Message) error {
	c.fanOut(ctx, msg)
	return nil
}

// fanOut delivers the message to every registered module except its source,
// counting each outcome independently.
func (c *MessageCenter) fanOut(ctx context.Context, msg *message.Message) {
	handlers := c.registry.All()
	c.processor.Broadcast(ctx, msg, handlers, c.deliverSequenced, func(id string, _ *message.Response, err error) {
		if err != nil {
			c.stats.RecordFailed()
			c.logger.Warn("broadcast delivery failed",
				"message_id", msg.ID, "module", id, "error", err)
			return
		}
		c.stats.RecordDelivered()
	})
}
