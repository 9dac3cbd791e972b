// Package events publishes notifications about completed refinement cycles.
package events

import (
	"context"
	"time"
)

// DefaultSubject is the NATS subject cycle notifications are published to.
const DefaultSubject = "mia.cycle.completed"

// CycleCompleted is published after a cycle's roadmap has been saved.
type CycleCompleted struct {
	Cycle         int       `json:"cycle"`
	Symbols       int       `json:"symbols"`
	Questions     int       `json:"questions"`
	NewSymbols    int       `json:"new_symbols"`
	SourcesOK     int       `json:"sources_ok"`
	SourcesFailed int       `json:"sources_failed"`
	Converged     bool      `json:"converged"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher delivers cycle notifications.
type Publisher interface {
	PublishCycleCompleted(ctx context.Context, ev CycleCompleted) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// PublishCycleCompleted does nothing.
func (Nop) PublishCycleCompleted(context.Context, CycleCompleted) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
