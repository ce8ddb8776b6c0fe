package module

import (
	"fmt"
	"maps"
	"sync"

	"github.com/c360/messagecenter/errors"
)

// Callback is invoked out-of-band after a lifecycle event so registration
// never blocks on downstream notification.
type Callback func(moduleID string)

// Registry manages module registrations. It provides thread-safe
// registration and lookup of module handlers by id, and fires lifecycle
// callbacks asynchronously on register and unregister.
type Registry struct {
	modules      map[string]Handler
	onRegister   Callback
	onUnregister Callback
	mu           sync.RWMutex // Protects modules
}

// NewRegistry creates a new empty module registry
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Handler),
	}
}

// SetCallbacks installs the lifecycle callbacks fired after successful
// register and unregister operations. Intended to be called once during
// wiring, before the registry is shared.
func (r *Registry) SetCallbacks(onRegister, onUnregister Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onRegister = onRegister
	r.onUnregister = onUnregister
}

// Register stores the handler under the given id. Returns an error if the
// id is empty, the handler is nil, or a module with the same id is already
// registered. The registration callback runs on its own goroutine.
func (r *Registry) Register(id string, handler Handler) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidRegistration, "Registry", "Register", "module id validation")
	}
	if handler == nil {
		return errors.WrapInvalid(errors.ErrInvalidRegistration, "Registry", "Register", "handler validation")
	}

	r.mu.Lock()
	if _, exists := r.modules[id]; exists {
		r.mu.Unlock()
		msg := fmt.Errorf("module '%s' is already registered: %w", id, errors.ErrDuplicateModule)
		return errors.WrapInvalid(msg, "Registry", "Register", "duplicate module check")
	}
	r.modules[id] = handler
	callback := r.onRegister
	r.mu.Unlock()

	if callback != nil {
		go callback(id)
	}

	return nil
}

// Unregister removes the mapping for id and reports whether it existed.
// The unregistration callback fires only when a mapping was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, exists := r.modules[id]
	if exists {
		delete(r.modules, id)
	}
	callback := r.onUnregister
	r.mu.Unlock()

	if exists && callback != nil {
		go callback(id)
	}

	return exists
}

// Get retrieves a handler by module id
func (r *Registry) Get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.modules[id]
	return handler, exists
}

// Has reports whether a module with the given id is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.modules[id]
	return exists
}

// All returns a defensive copy of the id to handler map
func (r *Registry) All() map[string]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Handler, len(r.modules))
	maps.Copy(result, r.modules)

	return result
}

// Count returns the number of registered modules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.modules)
}

// IDs returns the ids of all registered modules
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}

	return ids
}

// Clear removes every registration without firing callbacks. Used by the
// orchestrator during teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules = make(map[string]Handler)
}
