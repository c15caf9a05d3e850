package history

import (
	"context"
	"time"
)

// EventType defines the kind of relay lifecycle event.
type EventType string

const (
	// EventConnected marks a pipeline reaching its first healthy verdict.
	EventConnected EventType = "connected"
	// EventDisconnected marks a pipeline teardown after a failure.
	EventDisconnected EventType = "disconnected"
	// EventGaveUp marks the terminal give-up of a relay.
	EventGaveUp EventType = "gave_up"
)

// Record captures the relay's position when an event occurred. The target
// URL is stored with credentials already stripped.
type Record struct {
	Stream  string `json:"stream"`
	Target  string `json:"target"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason,omitempty"`
}

// Event is one lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for relay events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
