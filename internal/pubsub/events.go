// Package pubsub provides a generic publish/subscribe event broker used for
// log fanout, bus delivery events, and orchestrator status updates.
package pubsub

import "time"

// EventType labels what happened to the payload.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
