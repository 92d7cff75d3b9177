// Package notify implements the admin notification gateway. Notifications
// are strictly fire-and-forget: a failing sink is logged and swallowed, it
// never blocks or fails a dispatch or submission operation.
package notify

import (
	"context"
	"time"
)

// Event types emitted by the engine and generator.
const (
	// EventDataCorruption - a stored record violated an invariant and was force-terminated
	EventDataCorruption = "data_corruption"
	// EventWorkExhausted - a work request found no candidates at all
	EventWorkExhausted = "work_exhausted"
	// EventInvalidSubmissions - a miner crossed the invalid submission threshold
	EventInvalidSubmissions = "invalid_submissions"
)

// Severity levels for admin events.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one admin notification.
type Event struct {
	Type     string
	Severity string
	Message  string
	Fields   map[string]any
	At       time.Time
}

// Notifier delivers admin events. Implementations must not return delivery
// failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev *Event)
}

// Multi fans an event out to several sinks.
type Multi []Notifier

// Notify delivers the event to every sink.
func (m Multi) Notify(ctx context.Context, ev *Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// Nop discards all events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(_ context.Context, _ *Event) {}
