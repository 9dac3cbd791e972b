// Package testutil provides test utilities for the llm package.
// It includes a mock generator for testing code that drives generation.
package testutil

import (
	"context"
	"sync"
)

// MockGenerator is a thread-safe scripted generator for testing.
// It records every prompt and returns configured replies in sequence.
//
// Usage:
//
//	// Generation reply followed by a review
//	mock := &MockGenerator{
//	    Responses: []string{"Q_plasma relates to the Lawson_criterion.", "Open questions:\n1. ..."},
//	}
//
//	// Failure on the second call only
//	mock := &MockGenerator{
//	    Responses: []string{"ok"},
//	    Errors:    []error{nil, errors.New("connection refused")},
//	}
//
//	// Failure on every call
//	mock := &MockGenerator{Err: errors.New("connection refused")}
type MockGenerator struct {
	mu        sync.Mutex
	ModelName string   // Returned by Model(); defaults to "test-model"
	Responses []string // Replies returned in sequence
	Errors    []error  // Per-call errors, aligned with calls; nil entries succeed
	Err       error    // Error for every call (takes precedence)
	prompts   []string
	callCount int
}

// Generate returns the next scripted reply or error.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callCount
	m.callCount++
	m.prompts = append(m.prompts, prompt)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return "", m.Errors[idx]
	}
	if idx < len(m.Responses) {
		return m.Responses[idx], nil
	}

	// Default reply once the script is exhausted
	return "", nil
}

// Model returns the configured model name.
func (m *MockGenerator) Model() string {
	if m.ModelName == "" {
		return "test-model"
	}
	return m.ModelName
}

// Prompts returns a copy of every prompt received.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// GetCallCount returns the number of times Generate() was called.
func (m *MockGenerator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears recorded prompts and the call count.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.prompts = nil
}
