// Package events implements a minimal in-process publish/subscribe bus.
// Modules announce domain events on it instead of calling each other
// directly, which keeps the lifecycle engine free of notification concerns.
package events

import (
	"context"
	"time"
)

// Event is anything that can be published on the bus. EventName keys the
// subscription table and must be stable across the codebase.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the occurrence timestamp; embed it in concrete events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a BaseEvent with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes published events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc lets a plain function act as a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus dispatches events to the handlers subscribed to their name.
type Bus interface {
	// Publish dispatches asynchronously; handler errors are logged by the
	// bus, not returned.
	Publish(ctx context.Context, event Event)

	// PublishSync runs every handler before returning and reports the first
	// handler error.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers handler for events whose EventName equals
	// eventName.
	Subscribe(eventName string, handler Handler)
}
