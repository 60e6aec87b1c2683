package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callback_backend/platform/apperr"
)

const callbackNotFoundMessage = "callback request not found"

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new callbacks repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// Create inserts a new callback request record.
func (r *Repo) Create(ctx context.Context, req CallbackRequest) error {
	query := `
		INSERT INTO callbacks (request_id, visitor_name, visitor_email, visitor_phone, request_status, status_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.VisitorName, req.VisitorEmail, req.VisitorPhone,
		string(req.Status), req.StatusMessage, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create callback request: %w", err)
	}
	return nil
}

// GetByID retrieves a callback request by its ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (CallbackRequest, error) {
	query := `
		SELECT request_id, visitor_name, visitor_email, visitor_phone, request_status, status_message, created_at, updated_at, call_sid, sms_sid
		FROM callbacks
		WHERE request_id = $1`

	var req CallbackRequest
	var status string

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.VisitorName, &req.VisitorEmail, &req.VisitorPhone,
		&status, &req.StatusMessage, &req.CreatedAt, &req.UpdatedAt,
		&req.CallSID, &req.SMSSID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CallbackRequest{}, apperr.NotFound(callbackNotFoundMessage)
		}
		return CallbackRequest{}, fmt.Errorf("get callback request: %w", err)
	}

	req.Status = Status(status)
	return req, nil
}

// UpdateStatus performs a compare-and-swap transition. The WHERE clause on
// the expected prior statuses makes concurrent webhook deliveries for the
// same request safe without a separate lock: exactly one caller wins, the
// rest get ErrStaleTransition. SIDs are applied through COALESCE so a set
// SID is never overwritten.
func (r *Repo) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	query := `
		UPDATE callbacks
		SET request_status = $1,
		    status_message = $2,
		    updated_at = now(),
		    call_sid = COALESCE(call_sid, $3),
		    sms_sid = COALESCE(sms_sid, $4)
		WHERE request_id = $5 AND request_status = ANY($6)`

	expected := make([]string, len(params.ExpectedPrior))
	for i, s := range params.ExpectedPrior {
		expected[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, query,
		string(params.NewStatus), params.Message, params.CallSID, params.SMSSID,
		params.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update callback status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from an unknown request id.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM callbacks WHERE request_id = $1)`, params.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check callback existence: %w", err)
		}
		if !exists {
			return apperr.NotFound(callbackNotFoundMessage)
		}
		return ErrStaleTransition
	}

	return nil
}

// AppendAudit inserts one audit log entry. The log is append-only; entries
// are never updated or deleted.
func (r *Repo) AppendAudit(ctx context.Context, event AuditEvent) error {
	query := `
		INSERT INTO audit_log (request_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, now())`

	_, err := r.pool.Exec(ctx, query, event.RequestID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
