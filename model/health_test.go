package model

import (
	"testing"
	"time"

	"github.com/cicciopanzer27/mia/llm"
)

// testRegistry has a local endpoint preferred for generation and a remote
// one preferred for review, each falling back to the other.
func testRegistry() *Registry {
	return NewRegistry(
		map[Role]*RoleConfig{
			RoleGenerate: {Preferred: []string{"local"}, Fallback: []string{"remote"}},
			RoleReview:   {Preferred: []string{"remote"}, Fallback: []string{"local"}},
		},
		map[string]llm.Endpoint{
			"local":  {Provider: "ollama", Model: "llama3"},
			"remote": {Provider: "openai", URL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		},
		"local",
	)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestEndpointHealthTracking(t *testing.T) {
	r := testRegistry()

	// Initially, all endpoints should be available
	if !r.IsEndpointAvailable("local") {
		t.Error("expected local to be available initially")
	}

	// No health info should exist yet
	if health := r.GetEndpointHealth("local"); health != nil {
		t.Error("expected no health info before any requests")
	}

	r.MarkEndpointSuccess("local")

	health := r.GetEndpointHealth("local")
	if health == nil {
		t.Fatal("expected health info after success")
	}
	if !health.Available {
		t.Error("expected endpoint to be available after success")
	}
	if health.FailureCount != 0 {
		t.Errorf("expected failure count 0, got %d", health.FailureCount)
	}
	if health.LastSuccess.IsZero() {
		t.Error("expected last success to be set")
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	// First failure - still available
	r.MarkEndpointFailure("local")
	if !r.IsEndpointAvailable("local") {
		t.Error("expected local to be available after 1 failure")
	}

	// Second failure - circuit opens
	r.MarkEndpointFailure("local")
	if r.IsEndpointAvailable("local") {
		t.Error("expected local to be unavailable after circuit opens")
	}

	health := r.GetEndpointHealth("local")
	if health == nil {
		t.Fatal("expected health info")
	}
	if !health.CircuitOpen {
		t.Error("expected circuit to be open")
	}
	if health.FailureCount != 2 {
		t.Errorf("expected failure count 2, got %d", health.FailureCount)
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := testRegistry()
	r.SetClock(clock.Now)
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})

	r.MarkEndpointFailure("local")
	if r.IsEndpointAvailable("local") {
		t.Error("expected local to be unavailable immediately after failure")
	}

	clock.Advance(31 * time.Second)

	// Half-open: one more attempt is allowed
	if !r.IsEndpointAvailable("local") {
		t.Error("expected local to be available after recovery timeout")
	}

	r.MarkEndpointSuccess("local")
	health := r.GetEndpointHealth("local")
	if health == nil {
		t.Fatal("expected health info")
	}
	if health.CircuitOpen {
		t.Error("expected circuit to be closed after success")
	}
	if health.FailureCount != 0 {
		t.Errorf("expected failure count reset to 0, got %d", health.FailureCount)
	}
}

func TestAvailableChain(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	r.MarkEndpointFailure("local")

	chain := r.AvailableChain(RoleGenerate)
	if len(chain) != 1 || chain[0] != "remote" {
		t.Errorf("expected [remote], got %v", chain)
	}
}

func TestAvailableChainAllUnavailable(t *testing.T) {
	r := testRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	for _, name := range r.ListEndpoints() {
		r.MarkEndpointFailure(name)
	}

	// Should still return the full chain (better to try something)
	chain := r.AvailableChain(RoleReview)
	if len(chain) != 2 || chain[0] != "remote" {
		t.Errorf("expected full review chain, got %v", chain)
	}
}

func TestDefaultHealthConfig(t *testing.T) {
	cfg := DefaultHealthConfig()

	if cfg.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.FailureThreshold)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Errorf("expected recovery timeout 30s, got %v", cfg.RecoveryTimeout)
	}
}
