// Package topic manages topic subscriptions: a per-topic subscriber set
// plus an independent wildcard set whose members receive every publication.
// The manager consults the module registry for liveness so departed modules
// never appear in subscriber lists.
package topic

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/messagecenter/errors"
)

// Wildcard is the sentinel topic reported for wildcard subscribers in
// ModuleSubscriptions.
const Wildcard = "*"

// ModuleChecker is the narrow registry view the manager needs: module
// liveness only. *module.Registry satisfies it.
type ModuleChecker interface {
	Has(id string) bool
}

// Stats summarizes the subscription tables
type Stats struct {
	TopicCount         int      `json:"topic_count"`
	TotalSubscriptions int      `json:"total_subscriptions"`
	WildcardCount      int      `json:"wildcard_count"`
	Topics             []string `json:"topics"`
}

// Manager tracks topic and wildcard subscriptions
type Manager struct {
	topics    map[string]map[string]struct{}
	wildcards map[string]struct{}
	modules   ModuleChecker
	mu        sync.RWMutex // Protects both maps
}

// NewManager creates a subscription manager backed by the given liveness
// checker.
func NewManager(modules ModuleChecker) *Manager {
	return &Manager{
		topics:    make(map[string]map[string]struct{}),
		wildcards: make(map[string]struct{}),
		modules:   modules,
	}
}

// Subscribe adds the module to the topic's subscriber set, or to the
// wildcard set when wildcard is true (the topic is ignored for wildcard
// membership). Subscribing an unregistered module fails; repeated
// subscription is idempotent.
func (m *Manager) Subscribe(moduleID, topicName string, wildcard bool) error {
	if moduleID == "" {
		return errors.WrapInvalid(errors.ErrUnknownModule, "Manager", "Subscribe", "module id validation")
	}
	if !m.modules.Has(moduleID) {
		return errors.WrapInvalid(
			fmt.Errorf("module '%s': %w", moduleID, errors.ErrUnknownModule),
			"Manager", "Subscribe", "module liveness check")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if wildcard {
		m.wildcards[moduleID] = struct{}{}
		return nil
	}

	if topicName == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Manager", "Subscribe", "topic validation")
	}

	subscribers, exists := m.topics[topicName]
	if !exists {
		subscribers = make(map[string]struct{})
		m.topics[topicName] = subscribers
	}
	subscribers[moduleID] = struct{}{}

	return nil
}

// Unsubscribe removes the module's membership and reports whether anything
// was removed. With wildcard true it leaves the wildcard set; otherwise it
// leaves the topic's subscriber set, deleting the topic entry once empty.
func (m *Manager) Unsubscribe(moduleID, topicName string, wildcard bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wildcard {
		if _, exists := m.wildcards[moduleID]; !exists {
			return false
		}
		delete(m.wildcards, moduleID)
		return true
	}

	subscribers, exists := m.topics[topicName]
	if !exists {
		return false
	}
	if _, member := subscribers[moduleID]; !member {
		return false
	}
	delete(subscribers, moduleID)
	if len(subscribers) == 0 {
		delete(m.topics, topicName)
	}
	return true
}

// Subscribers returns the union of the topic's specific subscribers and the
// wildcard set, filtered to currently registered modules and sorted.
func (m *Manager) Subscribers(topicName string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range m.topics[topicName] {
		if m.modules.Has(id) {
			seen[id] = struct{}{}
		}
	}
	for id := range m.wildcards {
		if m.modules.Has(id) {
			seen[id] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// IsSubscribed reports wildcard-or-specific membership for the topic
func (m *Manager) IsSubscribed(moduleID, topicName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, wildcard := m.wildcards[moduleID]; wildcard {
		return true
	}
	_, member := m.topics[topicName][moduleID]
	return member
}

// ModuleSubscriptions lists the module's explicit topics, sorted, with the
// wildcard sentinel appended when the module is a wildcard subscriber.
func (m *Manager) ModuleSubscriptions(moduleID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var topics []string
	for name, subscribers := range m.topics {
		if _, member := subscribers[moduleID]; member {
			topics = append(topics, name)
		}
	}
	sort.Strings(topics)

	if _, wildcard := m.wildcards[moduleID]; wildcard {
		topics = append(topics, Wildcard)
	}
	return topics
}

// Topics returns all topics with at least one specific subscriber, sorted.
// Topics reached only through wildcard subscribers have no entry here: the
// wildcard set carries no topic names.
func (m *Manager) Topics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topics := make([]string, 0, len(m.topics))
	for name := range m.topics {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics
}

// SubscriptionStats returns a snapshot of the subscription tables
func (m *Manager) SubscriptionStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	topics := make([]string, 0, len(m.topics))
	for name, subscribers := range m.topics {
		topics = append(topics, name)
		total += len(subscribers)
	}
	sort.Strings(topics)

	return Stats{
		TopicCount:         len(m.topics),
		TotalSubscriptions: total,
		WildcardCount:      len(m.wildcards),
		Topics:             topics,
	}
}

// RemoveModule purges every membership held by the module, specific and
// wildcard. Called by the orchestrator when a module unregisters.
func (m *Manager) RemoveModule(moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.wildcards, moduleID)
	for name, subscribers := range m.topics {
		delete(subscribers, moduleID)
		if len(subscribers) == 0 {
			delete(m.topics, name)
		}
	}
}

// CleanupOrphans purges memberships for modules that are no longer
// registered and returns the number of removed memberships.
func (m *Manager) CleanupOrphans() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range m.wildcards {
		if !m.modules.Has(id) {
			delete(m.wildcards, id)
			removed++
		}
	}
	for name, subscribers := range m.topics {
		for id := range subscribers {
			if !m.modules.Has(id) {
				delete(subscribers, id)
				removed++
			}
		}
		if len(subscribers) == 0 {
			delete(m.topics, name)
		}
	}
	return removed
}

// Clear drops every subscription. Used by bus teardown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]map[string]struct{})
	m.wildcards = make(map[string]struct{})
}
