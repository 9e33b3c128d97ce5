// Package llm is a small provider-agnostic text completion client. Provider
// adapters live in the providers sub-package and register themselves on
// import.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Client performs single-shot text completions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ProviderFactory creates a Client for a given model name within a provider.
type ProviderFactory func(modelName string) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

// RegisterProvider registers a factory function for a named provider.
// Call this from init() in provider packages.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Providers lists the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewClient constructs a Client for a "provider:model-name" model ID.
func NewClient(modelID string) (Client, error) {
	provider, modelName, err := ParseModelID(modelID)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	registryMu.RLock()
	factory, ok := registry[provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (model ID %q), is the providers package imported?", provider, modelID)
	}
	return factory(modelName)
}

// Router is a Client that picks the provider from Request.Model on every
// call, creating provider clients lazily and caching them per model ID.
type Router struct {
	mu      sync.Mutex
	clients map[string]Client
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Complete implements Client.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	c, err := r.client(req.Model)
	if err != nil {
		return Response{}, err
	}
	return c.Complete(ctx, req)
}

func (r *Router) client(modelID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[modelID]; ok {
		return c, nil
	}
	c, err := NewClient(modelID)
	if err != nil {
		return nil, err
	}
	r.clients[modelID] = c
	return c, nil
}
