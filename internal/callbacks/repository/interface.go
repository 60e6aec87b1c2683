package repository

import (
	"context"

	"github.com/google/uuid"
)

// UpdateStatusParams describes one compare-and-swap status transition.
// ExpectedPrior is the set of states the transition is valid from; the
// update applies only if the stored status is in that set. CallSID/SMSSID,
// when non-nil, are recorded write-once (an existing SID is never replaced).
type UpdateStatusParams struct {
	ID            uuid.UUID
	NewStatus     Status
	Message       string
	ExpectedPrior []Status
	CallSID       *string
	SMSSID        *string
}

// Repository is the persistence contract for callback requests and audit
// events. UpdateStatus must be atomic: concurrent callers racing on the same
// request id serialize through it, and the loser receives ErrStaleTransition.
type Repository interface {
	Create(ctx context.Context, req CallbackRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (CallbackRequest, error)
	UpdateStatus(ctx context.Context, params UpdateStatusParams) error
	AppendAudit(ctx context.Context, event AuditEvent) error
}
