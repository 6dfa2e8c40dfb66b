// Package worker implements the callee-side half of the RPC engine: a
// registry of constructible classes, reflection-based method dispatch and
// property diffing over a registered instance, and the reverse-direction
// callback client used when a dispatched method invokes a function the
// caller passed in.
package worker

import (
	"fmt"
	"sync"

	"github.com/oriys/workerproc/internal/codec"
)

// Constructor builds a new instance of a registered class from its
// constructor-argument payload, decoded with the worker's negotiated
// codec.
type Constructor func(args []byte, c codec.Codec) (any, error)

// Registry maps a class name (spec.md's modulePath/className pair,
// collapsed to one string since Go has no dynamic module loading) to the
// Constructor that builds it. A worker binary registers every class it
// can serve before calling Serve.
type Registry struct {
	mu   sync.RWMutex
	ctor map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctor: make(map[string]Constructor)}
}

// Register adds or replaces the Constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctor[name] = ctor
}

func (r *Registry) lookup(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctor[name]
	if !ok {
		return nil, fmt.Errorf("rpc: unregistered class %q", name)
	}
	return ctor, nil
}
