// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"callback_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Callback Domain Events
// =============================================================================

// CallbackRequested is published when a validated callback request has been
// stored and routed (call placed or outside-hours SMS sent).
type CallbackRequested struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	VisitorName  string    `json:"visitorName,omitempty"`
	VisitorPhone string    `json:"visitorPhone"`
	OutsideHours bool      `json:"outsideHours"`
}

func (e CallbackRequested) EventName() string { return "callbacks.requested" }

// CallMissed is published when the outbound call could not reach the
// business and the SMS fallback path fired (or the call expired unanswered).
type CallMissed struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	VisitorName  string    `json:"visitorName,omitempty"`
	VisitorPhone string    `json:"visitorPhone"`
	Reason       string    `json:"reason"`
}

func (e CallMissed) EventName() string { return "callbacks.call_missed" }
