package engine

import "context"

// Node is a processing unit. Invoke receives the current buffer and decides
// where the process goes next.
type Node[B, O any] interface {
	Invoke(ctx context.Context, buf B) (NodeResult[B, O], error)
}

// NodeFunc adapts a plain function to Node.
type NodeFunc[B, O any] func(ctx context.Context, buf B) (NodeResult[B, O], error)

// Invoke calls f.
func (f NodeFunc[B, O]) Invoke(ctx context.Context, buf B) (NodeResult[B, O], error) {
	return f(ctx, buf)
}

// EndpointNode is a Node reachable from outside under a stable id.
type EndpointNode[B, O any] interface {
	Node[B, O]
	EndpointID() string
}

// Middleware runs before the entry node of every process. ShouldRun must be
// a pure predicate over the buffer; when it returns false the middleware is
// skipped and leaves no trace.
type Middleware[B, O any] interface {
	Node[B, O]
	ShouldRun(buf B) bool
}

// AlwaysRun can be embedded in a middleware type to get a ShouldRun that
// always returns true.
type AlwaysRun[B any] struct{}

// ShouldRun returns true.
func (AlwaysRun[B]) ShouldRun(B) bool { return true }

type funcMiddleware[B, O any] struct {
	when func(B) bool
	fn   NodeFunc[B, O]
}

func (m funcMiddleware[B, O]) ShouldRun(buf B) bool {
	if m.when == nil {
		return true
	}
	return m.when(buf)
}

func (m funcMiddleware[B, O]) Invoke(ctx context.Context, buf B) (NodeResult[B, O], error) {
	return m.fn(ctx, buf)
}

// NewMiddleware builds a Middleware from a predicate and an invoke function.
// A nil predicate runs on every buffer.
func NewMiddleware[B, O any](when func(B) bool, fn NodeFunc[B, O]) Middleware[B, O] {
	return funcMiddleware[B, O]{when: when, fn: fn}
}

type funcEndpoint[B, O any] struct {
	id string
	NodeFunc[B, O]
}

func (e funcEndpoint[B, O]) EndpointID() string { return e.id }

// NewEndpoint builds an EndpointNode answering to id.
func NewEndpoint[B, O any](id string, fn NodeFunc[B, O]) EndpointNode[B, O] {
	return funcEndpoint[B, O]{id: id, NodeFunc: fn}
}

// Resolver hands out unit instances by reference. Implementations must be
// safe for concurrent use; the engine never caches what they return.
type Resolver[B, O any] interface {
	// Endpoint maps an external endpoint id to the ref of its node.
	// Unknown ids yield an error wrapping ErrEndpointNotFound.
	Endpoint(id string) (Ref, error)
	// Node resolves a node. Unknown refs yield an error wrapping
	// ErrUnitNotFound.
	Node(ref Ref) (Node[B, O], error)
	// Middleware resolves a middleware. Unknown refs yield an error
	// wrapping ErrUnitNotFound.
	Middleware(ref Ref) (Middleware[B, O], error)
	// Middlewares lists middleware refs in registration order.
	Middlewares() []Ref
}
