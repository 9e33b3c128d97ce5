// Package registry provides the default engine.Resolver: a concurrency-safe
// table of factories keyed by unit ref.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
)

// Factory creates a unit instance. It is called on every resolution, so a
// fresh instance is handed out each time unless the factory shares one.
//
// A nil interface result is rejected at resolution. A typed nil pointer
// wrapped in the interface is not detected; if its methods dereference the
// receiver the engine reports the panic as a RecoveryError for that unit.
type Factory[T any] func() (T, error)

// Instance returns a factory that always hands out v.
func Instance[T any](v T) Factory[T] {
	return func() (T, error) { return v, nil }
}

// Registry maps refs to node and middleware factories and endpoint ids to
// refs. It implements engine.Resolver.
type Registry[B, O any] struct {
	mu          sync.RWMutex
	nodes       map[engine.Ref]Factory[engine.Node[B, O]]
	middlewares map[engine.Ref]Factory[engine.Middleware[B, O]]
	order       []engine.Ref
	endpoints   map[string]engine.Ref
}

var _ engine.Resolver[any, any] = (*Registry[any, any])(nil)

// New creates an empty Registry.
func New[B, O any]() *Registry[B, O] {
	return &Registry[B, O]{
		nodes:       make(map[engine.Ref]Factory[engine.Node[B, O]]),
		middlewares: make(map[engine.Ref]Factory[engine.Middleware[B, O]]),
		endpoints:   make(map[string]engine.Ref),
	}
}

// AddNode registers a node reachable only through redirects.
func (r *Registry[B, O]) AddNode(ref engine.Ref, f Factory[engine.Node[B, O]]) error {
	if f == nil {
		return fmt.Errorf("node %q: factory must not be nil", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRef(ref); err != nil {
		return err
	}
	r.nodes[ref] = f
	return nil
}

// AddEndpoint registers a node that processes may start from under id.
func (r *Registry[B, O]) AddEndpoint(ref engine.Ref, id string, f Factory[engine.Node[B, O]]) error {
	if f == nil {
		return fmt.Errorf("endpoint %q: factory must not be nil", ref)
	}
	if id == "" {
		return fmt.Errorf("endpoint %q: endpoint id must not be empty", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRef(ref); err != nil {
		return err
	}
	if owner, ok := r.endpoints[id]; ok {
		return fmt.Errorf("endpoint id %q (owned by %q): %w", id, owner, engine.ErrAlreadyRegistered)
	}
	r.nodes[ref] = f
	r.endpoints[id] = ref
	return nil
}

// AddEndpointNode registers an EndpointNode. The factory is called once up
// front to learn the endpoint id.
func (r *Registry[B, O]) AddEndpointNode(ref engine.Ref, f Factory[engine.EndpointNode[B, O]]) error {
	if f == nil {
		return fmt.Errorf("endpoint %q: factory must not be nil", ref)
	}
	probe, err := f()
	if err != nil {
		return fmt.Errorf("endpoint %q: probe endpoint id: %w", ref, err)
	}
	if probe == nil {
		return fmt.Errorf("endpoint %q: factory returned nil", ref)
	}
	return r.AddEndpoint(ref, probe.EndpointID(), func() (engine.Node[B, O], error) {
		n, err := f()
		if err != nil || n == nil {
			return nil, err
		}
		return n, nil
	})
}

// AddMiddleware appends a middleware. Middleware runs in the order it was
// added.
func (r *Registry[B, O]) AddMiddleware(ref engine.Ref, f Factory[engine.Middleware[B, O]]) error {
	if f == nil {
		return fmt.Errorf("middleware %q: factory must not be nil", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRef(ref); err != nil {
		return err
	}
	r.middlewares[ref] = f
	r.order = append(r.order, ref)
	return nil
}

// checkRef must be called with mu held.
func (r *Registry[B, O]) checkRef(ref engine.Ref) error {
	if ref == "" {
		return fmt.Errorf("unit ref must not be empty")
	}
	if _, ok := r.nodes[ref]; ok {
		return fmt.Errorf("unit %q: %w", ref, engine.ErrAlreadyRegistered)
	}
	if _, ok := r.middlewares[ref]; ok {
		return fmt.Errorf("unit %q: %w", ref, engine.ErrAlreadyRegistered)
	}
	return nil
}

// Endpoint implements engine.Resolver.
func (r *Registry[B, O]) Endpoint(id string) (engine.Ref, error) {
	r.mu.RLock()
	ref, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("endpoint %q: %w", id, engine.ErrEndpointNotFound)
	}
	return ref, nil
}

// Node implements engine.Resolver.
func (r *Registry[B, O]) Node(ref engine.Ref) (engine.Node[B, O], error) {
	r.mu.RLock()
	f, ok := r.nodes[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node %q: %w", ref, engine.ErrUnitNotFound)
	}
	n, err := f()
	if err != nil {
		return nil, fmt.Errorf("create node %q: %w", ref, err)
	}
	if n == nil {
		return nil, fmt.Errorf("create node %q: factory returned nil", ref)
	}
	return n, nil
}

// Middleware implements engine.Resolver.
func (r *Registry[B, O]) Middleware(ref engine.Ref) (engine.Middleware[B, O], error) {
	r.mu.RLock()
	f, ok := r.middlewares[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("middleware %q: %w", ref, engine.ErrUnitNotFound)
	}
	m, err := f()
	if err != nil {
		return nil, fmt.Errorf("create middleware %q: %w", ref, err)
	}
	if m == nil {
		return nil, fmt.Errorf("create middleware %q: factory returned nil", ref)
	}
	return m, nil
}

// Middlewares implements engine.Resolver.
func (r *Registry[B, O]) Middlewares() []engine.Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]engine.Ref, len(r.order))
	copy(out, r.order)
	return out
}

// Refs returns every registered ref, sorted.
func (r *Registry[B, O]) Refs() []engine.Ref {
	r.mu.RLock()
	out := make([]engine.Ref, 0, len(r.nodes)+len(r.middlewares))
	for ref := range r.nodes {
		out = append(out, ref)
	}
	for ref := range r.middlewares {
		out = append(out, ref)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EndpointIDs returns every registered endpoint id, sorted.
func (r *Registry[B, O]) EndpointIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
