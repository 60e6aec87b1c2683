// Package transport defines the wire-level request and response shapes of
// the callback API. Field names follow the public API contract.
package transport

// RequestCallbackRequest is the visitor submission payload.
type RequestCallbackRequest struct {
	VisitorNumber  string `json:"visitor_number" validate:"required,max=32"`
	Name           string `json:"name" validate:"omitempty,max=100"`
	Email          string `json:"email" validate:"omitempty,email,max=254"`
	RecaptchaToken string `json:"recaptcha_token" validate:"omitempty,max=2048"`
}

// RequestCallbackResponse acknowledges a queued callback request.
type RequestCallbackResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// StatusResponse is the polling view of one request.
type StatusResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updated_at"`
}
