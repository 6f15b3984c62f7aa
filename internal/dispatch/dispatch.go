// Package dispatch routes stored callback descriptors to registered handlers.
// The scheduler core never interprets a callback beyond its shape: a
// two-component name (handler and method) plus an opaque JSON argument payload.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Callback describes the action a task runs: a handler/method pair and an
// ordered JSON argument payload passed through verbatim.
type Callback struct {
	Method []string        `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewCallback builds a callback descriptor from a handler/method pair.
func NewCallback(handler, method string, params json.RawMessage) Callback {
	return Callback{Method: []string{handler, method}, Params: params}
}

// Valid reports whether the descriptor has exactly two non-empty components.
func (c Callback) Valid() bool {
	if len(c.Method) != 2 {
		return false
	}
	return c.Method[0] != "" && c.Method[1] != ""
}

// Key returns the registry key for the descriptor ("handler.method").
func (c Callback) Key() string {
	if len(c.Method) != 2 {
		return ""
	}
	return c.Method[0] + "." + c.Method[1]
}

// HandlerFunc executes one named action. The returned output is opaque to the
// scheduler and is stored verbatim in the audit log.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Dispatcher invokes the action named by a callback descriptor.
type Dispatcher interface {
	Dispatch(ctx context.Context, cb Callback) (json.RawMessage, error)
}

// Registry is a thread-safe Dispatcher backed by a handler map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler/method pair to fn. Later registrations for the
// same pair replace earlier ones.
func (r *Registry) Register(handler, method string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler+"."+method] = fn
}

// Dispatch implements Dispatcher.
func (r *Registry) Dispatch(ctx context.Context, cb Callback) (json.RawMessage, error) {
	if !cb.Valid() {
		return nil, fmt.Errorf("invalid callback descriptor: %v", cb.Method)
	}

	r.mu.RLock()
	fn, ok := r.handlers[cb.Key()]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", cb.Key())
	}
	return fn(ctx, cb.Params)
}
