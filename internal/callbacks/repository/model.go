// Package repository provides durable storage for callback requests and the
// append-only audit log.
package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a callback request.
type Status string

const (
	// StatusCreated is the initial state after a validated submission.
	StatusCreated Status = "created"
	// StatusCalling means an outbound call to the business is in flight.
	StatusCalling Status = "calling"
	// StatusBridged means the business answered and the provider is
	// connecting the legs.
	StatusBridged Status = "bridged"
	// StatusSMSSentHours means the request arrived outside business hours
	// and the business was notified by SMS. Terminal.
	StatusSMSSentHours Status = "sms_sent_hours"
	// StatusSMSSentFallback means the call could not be completed and the
	// business was notified by SMS. Terminal.
	StatusSMSSentFallback Status = "sms_sent_fallback"
	// StatusCompleted means the bridged call finished. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means neither the call nor the fallback SMS went
	// through. Terminal.
	StatusFailed Status = "failed"
)

// Audit event types. The audit log records every transition and every
// rejected input, including events that never map to a stored request.
const (
	EventCreated          = "created"
	EventCallInitiated    = "call_initiated"
	EventCallFailed       = "call_failed"
	EventCallAnswered     = "call_answered"
	EventCallCompleted    = "call_completed"
	EventCallNoAnswer     = "call_no_answer"
	EventCallExpired      = "call_expired"
	EventSMSSent          = "sms_sent"
	EventSMSFailed        = "sms_failed"
	EventCaptchaFailed    = "captcha_failed"
	EventRateLimited      = "rate_limited"
	EventInvalidSignature = "invalid_signature"
	EventOutsideHours     = "outside_hours"
	EventStaleTransition  = "stale_transition"
)

// ErrStaleTransition is returned by UpdateStatus when the request exists but
// its current status is not in the expected set: the caller lost a race
// against a concurrent update (typically a duplicate webhook delivery) and
// must not retry the mutation.
var ErrStaleTransition = errors.New("stale status transition")

// CallbackRequest is the durable record of one visitor callback submission.
// The phone number is always stored in E.164 form. CallSID and SMSSID are
// write-once: a request gets at most one call and at most one SMS.
type CallbackRequest struct {
	ID            uuid.UUID
	VisitorName   string
	VisitorEmail  string
	VisitorPhone  string
	Status        Status
	StatusMessage string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CallSID       *string
	SMSSID        *string
}

// AuditEvent is one append-only audit log entry. RequestID is nil for events
// with no valid request, e.g. rejected spoofed webhooks.
type AuditEvent struct {
	LogID     int64
	RequestID *uuid.UUID
	EventType string
	Payload   map[string]any
	Timestamp time.Time
}
