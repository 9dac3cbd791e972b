package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cicciopanzer27/mia/llm"
)

// DefaultEndpoint is the endpoint name used by SingleEndpoint.
const DefaultEndpoint = "default"

// RoleConfig defines endpoint preferences for a role.
type RoleConfig struct {
	// Preferred lists endpoints in order of preference.
	// The first available endpoint is used.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Registry maps roles to endpoint chains and tracks endpoint health.
type Registry struct {
	mu          sync.RWMutex
	roles       map[Role]*RoleConfig
	endpoints   map[string]llm.Endpoint
	defaultName string
	health      *healthState
}

// NewRegistry creates a registry. Roles without a configuration resolve to
// defaultName.
func NewRegistry(roles map[Role]*RoleConfig, endpoints map[string]llm.Endpoint, defaultName string) *Registry {
	if roles == nil {
		roles = make(map[Role]*RoleConfig)
	}
	if endpoints == nil {
		endpoints = make(map[string]llm.Endpoint)
	}
	return &Registry{
		roles:       roles,
		endpoints:   endpoints,
		defaultName: defaultName,
		health:      newHealthState(DefaultHealthConfig(), time.Now),
	}
}

// SingleEndpoint creates a registry where every role uses ep.
func SingleEndpoint(ep llm.Endpoint) *Registry {
	return NewRegistry(nil, map[string]llm.Endpoint{DefaultEndpoint: ep}, DefaultEndpoint)
}

// Validate checks that every endpoint referenced by a role, and the
// default, is configured.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.endpoints[r.defaultName]; !ok {
		return fmt.Errorf("default endpoint %q is not configured", r.defaultName)
	}
	for role, cfg := range r.roles {
		if !role.IsValid() {
			return fmt.Errorf("unknown role %q", role)
		}
		if len(cfg.Preferred) == 0 {
			return fmt.Errorf("role %s: no preferred endpoint", role)
		}
		for _, name := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
			if _, ok := r.endpoints[name]; !ok {
				return fmt.Errorf("role %s: endpoint %q is not configured", role, name)
			}
		}
	}
	return nil
}

// Resolve returns the preferred endpoint name for a role.
func (r *Registry) Resolve(role Role) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.roles[role]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaultName
}

// FallbackChain returns all endpoint names for a role in order of
// preference, without duplicates.
func (r *Registry) FallbackChain(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.roles[role]
	if !ok {
		return []string{r.defaultName}
	}
	chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
	seen := make(map[string]bool, cap(chain))
	for _, name := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
		if !seen[name] {
			seen[name] = true
			chain = append(chain, name)
		}
	}
	return chain
}

// Endpoint returns the endpoint configured under name.
func (r *Registry) Endpoint(name string) (llm.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[name]
	return ep, ok
}

// SetRole updates or adds a role configuration.
func (r *Registry) SetRole(role Role, cfg *RoleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roles[role] = cfg
}

// SetEndpoint updates or adds an endpoint.
func (r *Registry) SetEndpoint(name string, ep llm.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints[name] = ep
}

// ListEndpoints returns all configured endpoint names, sorted.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
