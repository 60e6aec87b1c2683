// Package telephony defines the capability interface for the external
// call/SMS provider. The lifecycle engine depends only on this interface;
// the concrete provider lives in a subpackage.
package telephony

import (
	"context"
	"fmt"
)

// CallHandle identifies a placed outbound call at the provider.
type CallHandle struct {
	SID string
}

// SMSHandle identifies a sent SMS at the provider.
type SMSHandle struct {
	SID string
}

// GatewayError wraps any failure while talking to the provider. The engine
// absorbs these into the SMS fallback path; they are never surfaced to the
// visitor as an error.
type GatewayError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("telephony gateway: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Gateway is the provider capability interface. Every call is a single
// attempt over the network with a bounded timeout; retry policy, if any,
// belongs to the caller.
type Gateway interface {
	// PlaceCall dials `to` from `from` and asks the provider to POST status
	// events to statusCallbackURL. The provider bridges the legs on answer.
	PlaceCall(ctx context.Context, to, from, statusCallbackURL string) (CallHandle, error)

	// SendSMS sends a text message.
	SendSMS(ctx context.Context, to, from, body string) (SMSHandle, error)

	// ValidateSignature verifies the authenticity signature of an inbound
	// provider webhook against the exact request URL and form parameters.
	ValidateSignature(url string, params map[string]string, signature string) bool
}
