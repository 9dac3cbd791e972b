package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cicciopanzer27/mia/llm"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// ClientFactory builds the generator for a named endpoint.
type ClientFactory func(name string, ep llm.Endpoint) (Generator, error)

// Router is a Generator that walks a role's fallback chain. It moves to the
// next endpoint on a *llm.GenerationError and stops on anything else,
// including context cancellation.
type Router struct {
	registry *Registry
	role     Role
	clients  map[string]Generator
	logger   *slog.Logger

	mu        sync.Mutex
	lastModel string
}

// NewRouter builds one generator per endpoint in the role's chain.
func NewRouter(registry *Registry, role Role, factory ClientFactory, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clients := make(map[string]Generator)
	for _, name := range registry.FallbackChain(role) {
		ep, ok := registry.Endpoint(name)
		if !ok {
			return nil, fmt.Errorf("role %s: endpoint %q is not configured", role, name)
		}
		gen, err := factory(name, ep)
		if err != nil {
			return nil, fmt.Errorf("role %s: endpoint %q: %w", role, name, err)
		}
		clients[name] = gen
	}

	return &Router{
		registry: registry,
		role:     role,
		clients:  clients,
		logger:   logger,
	}, nil
}

// Generate tries each available endpoint in order and returns the first
// reply. When every endpoint fails the last error is returned.
func (r *Router) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, name := range r.registry.AvailableChain(r.role) {
		gen, ok := r.clients[name]
		if !ok {
			continue
		}

		out, err := gen.Generate(ctx, prompt)
		if err == nil {
			r.registry.MarkEndpointSuccess(name)
			r.mu.Lock()
			r.lastModel = gen.Model()
			r.mu.Unlock()
			return out, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if _, ok := llm.IsGenerationError(err); !ok {
			return "", err
		}

		r.registry.MarkEndpointFailure(name)
		r.logger.Warn("Endpoint failed, trying next",
			"role", r.role,
			"endpoint", name,
			"error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("role %s: no endpoint available", r.role)
	}
	return "", lastErr
}

// Model returns the model that produced the last reply, or the preferred
// endpoint's model before any call succeeded.
func (r *Router) Model() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastModel != "" {
		return r.lastModel
	}
	if gen, ok := r.clients[r.registry.Resolve(r.role)]; ok {
		return gen.Model()
	}
	return ""
}
