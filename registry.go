// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"fmt"
	"sync"
)

// Handler is the unit of business logic a job record ultimately invokes.
// The payload is the opaque blob stored on the record; handlers decode
// it themselves. Handlers must honor ctx: it is cancelled when the lease
// on the record expires.
type Handler interface {
	Execute(ctx context.Context, payload string) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload string) error

// Execute calls f(ctx, payload).
func (f HandlerFunc) Execute(ctx context.Context, payload string) error {
	return f(ctx, payload)
}

// Registry maps handler identifiers to handlers. Registration happens at
// process startup; lookups at dispatch time never fail hard, because a
// deployment might enqueue jobs referencing a handler from a
// not-yet-deployed version. An unresolvable handler id is surfaced as a
// normal execution failure by the dispatcher.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under the given identifier. It fails if the
// identifier is already taken.
func (r *Registry) Register(handlerID string, h Handler) error {
	if handlerID == "" {
		return fmt.Errorf("jobsched: no handler id specified")
	}
	if h == nil {
		return fmt.Errorf("jobsched: no handler specified for id %s", handlerID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.handlers[handlerID]; found {
		return fmt.Errorf("jobsched: handler id %s already registered", handlerID)
	}
	r.handlers[handlerID] = h
	return nil
}

// Resolve returns the handler registered under the given identifier.
func (r *Registry) Resolve(handlerID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, found := r.handlers[handlerID]
	return h, found
}

// HandlerIDs returns all registered handler identifiers.
func (r *Registry) HandlerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}
