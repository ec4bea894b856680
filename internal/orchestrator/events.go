package orchestrator

// Event represents an orchestrator lifecycle event.
// Minimal and stable: name + node ID and optional fields via key/values.
type Event struct {
	Name   string
	NodeID string
	Fields map[string]any
}

// EventPublisher receives events from the orchestrator. Implementations
// should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
