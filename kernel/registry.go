// Package kernel holds the application wide registry and the startup tasks
// that prepare the runtime before the first dispatch.
package kernel

import "sync"

// Registry is a thread safe bag of application parameters. Until Init is
// called reads return defaults and writes report false.
type Registry struct {
	mu     sync.RWMutex
	params map[string]interface{}
}

// NewRegistry creates an uninitialized registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Init replaces the parameters with a copy of params
func (r *Registry) Init(params map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.params = make(map[string]interface{}, len(params))
	for k, v := range params {
		r.params[k] = v
	}
}

// Clear drops all parameters and returns the registry to its uninitialized state
func (r *Registry) Clear() {
	r.mu.Lock()
	r.params = nil
	r.mu.Unlock()
}

// IsInit reports whether Init has been called
func (r *Registry) IsInit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params != nil
}

// Count returns the number of parameters
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.params)
}

// Get returns the parameter stored under key or def
func (r *Registry) Get(key string, def interface{}) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if value, ok := r.params[key]; ok {
		return value
	}
	return def
}

// GetString returns the parameter as a string or def
func (r *Registry) GetString(key, def string) string {
	if s, ok := r.Get(key, nil).(string); ok {
		return s
	}
	return def
}

// Add stores a single parameter. Empty keys are rejected.
func (r *Registry) Add(key string, value interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.params == nil || key == "" {
		return false
	}
	r.params[key] = value
	return true
}

// Load adds every parameter in params
func (r *Registry) Load(params map[string]interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.params == nil {
		return false
	}
	for k, v := range params {
		if k == "" {
			continue
		}
		r.params[k] = v
	}
	return true
}

// Exists reports whether key is registered
func (r *Registry) Exists(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.params[key]
	return ok
}

// GetAll returns a copy of all parameters
func (r *Registry) GetAll() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]interface{}, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Collect returns the parameters named by keys, skipping missing ones
func (r *Registry) Collect(keys []string) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := r.params[key]; ok {
			out[key] = value
		}
	}
	return out
}
