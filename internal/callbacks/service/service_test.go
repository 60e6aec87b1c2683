package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"callback_backend/internal/callbacks/repository"
	"callback_backend/internal/telephony"
	"callback_backend/platform/apperr"
	"callback_backend/platform/logger"
)

// fakeRepo is an in-memory Repository with the same compare-and-swap
// semantics as the PostgreSQL implementation.
type fakeRepo struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]repository.CallbackRequest
	audits    []repository.AuditEvent
	updateErr error // forced UpdateStatus failure when set
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{requests: make(map[uuid.UUID]repository.CallbackRequest)}
}

func (r *fakeRepo) Create(_ context.Context, req repository.CallbackRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (repository.CallbackRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return repository.CallbackRequest{}, apperr.NotFound("callback request not found")
	}
	return req, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, params repository.UpdateStatusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return r.updateErr
	}

	req, ok := r.requests[params.ID]
	if !ok {
		return apperr.NotFound("callback request not found")
	}

	matched := false
	for _, expected := range params.ExpectedPrior {
		if req.Status == expected {
			matched = true
			break
		}
	}
	if !matched {
		return repository.ErrStaleTransition
	}

	req.Status = params.NewStatus
	req.StatusMessage = params.Message
	req.UpdatedAt = time.Now()
	if req.CallSID == nil && params.CallSID != nil {
		req.CallSID = params.CallSID
	}
	if req.SMSSID == nil && params.SMSSID != nil {
		req.SMSSID = params.SMSSID
	}
	r.requests[params.ID] = req
	return nil
}

func (r *fakeRepo) AppendAudit(_ context.Context, event repository.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, event)
	return nil
}

func (r *fakeRepo) status(t *testing.T, id uuid.UUID) repository.Status {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		t.Fatalf("request %s not found", id)
	}
	return req.Status
}

func (r *fakeRepo) auditCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.audits {
		if a.EventType == eventType {
			n++
		}
	}
	return n
}

// fakeGateway records placed calls and sent SMS messages.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string // statusCallbackURL per placed call
	sms       []string // body per sent SMS
	callErr   error
	smsErr    error
	signature bool
}

func (g *fakeGateway) PlaceCall(_ context.Context, to, from, statusCallbackURL string) (telephony.CallHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.callErr != nil {
		return telephony.CallHandle{}, g.callErr
	}
	g.calls = append(g.calls, statusCallbackURL)
	return telephony.CallHandle{SID: fmt.Sprintf("CA%04d", len(g.calls))}, nil
}

func (g *fakeGateway) SendSMS(_ context.Context, to, from, body string) (telephony.SMSHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.smsErr != nil {
		return telephony.SMSHandle{}, g.smsErr
	}
	g.sms = append(g.sms, body)
	return telephony.SMSHandle{SID: fmt.Sprintf("SM%04d", len(g.sms))}, nil
}

func (g *fakeGateway) ValidateSignature(string, map[string]string, string) bool {
	return g.signature
}

func (g *fakeGateway) smsCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sms)
}

type fakeHours struct {
	open   bool
	reason string
}

func (h fakeHours) IsOpen(time.Time) (bool, string) { return h.open, h.reason }

type fakeCaptcha struct{ pass bool }

func (c fakeCaptcha) Verify(context.Context, string, string) bool { return c.pass }

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Allow(context.Context, string) bool { return l.allow }

// recordingLimiter counts consultations so tests can pin the guard order.
type recordingLimiter struct {
	mu    sync.Mutex
	calls int
	allow bool
}

func (l *recordingLimiter) Allow(context.Context, string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.allow
}

func (l *recordingLimiter) consulted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeExpiry struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
}

func (e *fakeExpiry) ScheduleCallExpiry(_ context.Context, requestID uuid.UUID, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduled = append(e.scheduled, requestID)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *fakeRepo
	gateway *fakeGateway
	expiry  *fakeExpiry
}

func newFixture(hours fakeHours) *fixture {
	repo := newFakeRepo()
	gateway := &fakeGateway{}
	expiry := &fakeExpiry{}
	svc := New(repo, gateway, hours, fakeLimiter{allow: true}, fakeCaptcha{pass: true}, expiry, nil, Config{
		TwilioNumber:   "+15550000001",
		BusinessNumber: "+15550000002",
		PublicBaseURL:  "https://example.com",
		CallExpiry:     15 * time.Minute,
	}, logger.New("test"))
	return &fixture{svc: svc, repo: repo, gateway: gateway, expiry: expiry}
}

func validInput() RequestInput {
	return RequestInput{
		VisitorNumber: "+12125551234",
		Name:          "Ada",
		Email:         "ada@example.com",
		CaptchaToken:  "token",
		ClientIP:      "203.0.113.7",
	}
}

func TestRequestCallbackDuringHoursPlacesCall(t *testing.T) {
	f := newFixture(fakeHours{open: true, reason: "Within business hours"})

	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}

	if got := f.repo.status(t, result.RequestID); got != repository.StatusCalling {
		t.Errorf("status = %s, want %s", got, repository.StatusCalling)
	}
	if len(f.gateway.calls) != 1 {
		t.Fatalf("placed %d calls, want 1", len(f.gateway.calls))
	}
	wantURL := fmt.Sprintf("https://example.com/api/v1/twilio/status_callback?request_id=%s", result.RequestID)
	if f.gateway.calls[0] != wantURL {
		t.Errorf("status callback URL = %q, want %q", f.gateway.calls[0], wantURL)
	}
	if len(f.expiry.scheduled) != 1 || f.expiry.scheduled[0] != result.RequestID {
		t.Errorf("expiry watchdog not scheduled for %s", result.RequestID)
	}
	if f.gateway.smsCount() != 0 {
		t.Errorf("sent %d SMS during call path, want 0", f.gateway.smsCount())
	}
}

func TestRequestCallbackOutsideHoursSendsSMS(t *testing.T) {
	f := newFixture(fakeHours{open: false, reason: "Outside business hours (weekend)"})

	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}

	if got := f.repo.status(t, result.RequestID); got != repository.StatusSMSSentHours {
		t.Errorf("status = %s, want %s", got, repository.StatusSMSSentHours)
	}
	if f.gateway.smsCount() != 1 {
		t.Fatalf("sent %d SMS, want 1", f.gateway.smsCount())
	}
	if len(f.gateway.calls) != 0 {
		t.Errorf("placed %d calls outside hours, want 0", len(f.gateway.calls))
	}
	if !strings.Contains(f.gateway.sms[0], "+12125551234") {
		t.Errorf("SMS body %q should carry the visitor number", f.gateway.sms[0])
	}
	if !strings.Contains(result.Message, "business hours") {
		t.Errorf("visitor message %q should explain the outside-hours routing", result.Message)
	}
}

func TestRequestCallbackPlacementFailureFallsBackToSMS(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	f.gateway.callErr = errors.New("provider unavailable")

	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("placement failure must not surface to the visitor: %v", err)
	}

	if got := f.repo.status(t, result.RequestID); got != repository.StatusSMSSentFallback {
		t.Errorf("status = %s, want %s", got, repository.StatusSMSSentFallback)
	}
	if f.gateway.smsCount() != 1 {
		t.Errorf("sent %d SMS, want 1", f.gateway.smsCount())
	}
	if f.repo.auditCount(repository.EventCallFailed) != 1 {
		t.Errorf("call_failed audit events = %d, want 1", f.repo.auditCount(repository.EventCallFailed))
	}
}

func TestRequestCallbackRateLimited(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	f.svc.limiter = fakeLimiter{allow: false}

	_, err := f.svc.RequestCallback(context.Background(), validInput())
	if apperr.GetKind(err) != apperr.KindTooManyRequests {
		t.Fatalf("error kind = %v, want too many requests", apperr.GetKind(err))
	}
	if len(f.repo.requests) != 0 {
		t.Error("rate-limited submission must not create a request record")
	}
	if f.repo.auditCount(repository.EventRateLimited) != 1 {
		t.Errorf("rate_limited audit events = %d, want 1", f.repo.auditCount(repository.EventRateLimited))
	}
}

func TestRequestCallbackCaptchaRejected(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	f.svc.captcha = fakeCaptcha{pass: false}

	_, err := f.svc.RequestCallback(context.Background(), validInput())
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("error kind = %v, want validation", apperr.GetKind(err))
	}
	if len(f.repo.requests) != 0 {
		t.Error("captcha-rejected submission must not create a request record")
	}
}

func TestRequestCallbackRateLimitCheckedBeforePhoneValidation(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	limiter := &recordingLimiter{allow: false}
	f.svc.limiter = limiter

	in := validInput()
	in.VisitorNumber = "not-a-phone"

	_, err := f.svc.RequestCallback(context.Background(), in)
	if apperr.GetKind(err) != apperr.KindTooManyRequests {
		t.Fatalf("error kind = %v, want too many requests: the limiter runs before phone validation", apperr.GetKind(err))
	}
	if limiter.consulted() != 1 {
		t.Errorf("limiter consulted %d times, want 1", limiter.consulted())
	}
}

func TestRequestCallbackCaptchaCheckedBeforePhoneValidation(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	f.svc.captcha = fakeCaptcha{pass: false}

	in := validInput()
	in.VisitorNumber = "not-a-phone"

	_, err := f.svc.RequestCallback(context.Background(), in)
	if err == nil || !strings.Contains(err.Error(), "CAPTCHA") {
		t.Fatalf("error = %v, want the CAPTCHA rejection: captcha runs before phone validation", err)
	}
}

func TestRequestCallbackInvalidPhoneRejectedAfterGuards(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	limiter := &recordingLimiter{allow: true}
	f.svc.limiter = limiter

	in := validInput()
	in.VisitorNumber = "not-a-phone"

	_, err := f.svc.RequestCallback(context.Background(), in)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("error kind = %v, want validation", apperr.GetKind(err))
	}
	if limiter.consulted() != 1 {
		t.Errorf("limiter consulted %d times, want 1: invalid numbers still count against the windows", limiter.consulted())
	}
	if len(f.repo.requests) != 0 {
		t.Error("invalid-phone submission must not create a request record")
	}
}

func TestRequestCallbackWithoutGatewayStoresRequest(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	f.svc.gateway = nil

	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}
	if got := f.repo.status(t, result.RequestID); got != repository.StatusCreated {
		t.Errorf("status = %s, want %s", got, repository.StatusCreated)
	}
}

func TestHandleProviderEventAnsweredBridgesCall(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}

	err = f.svc.HandleProviderEvent(context.Background(), WebhookInput{
		RequestID:  result.RequestID,
		CallStatus: "answered",
		CallSID:    "CA0001",
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}
	if got := f.repo.status(t, result.RequestID); got != repository.StatusBridged {
		t.Errorf("status = %s, want %s", got, repository.StatusBridged)
	}
}

func TestHandleProviderEventCompletedLifecycle(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	for _, status := range []string{"answered", "completed"} {
		if err := f.svc.HandleProviderEvent(context.Background(), WebhookInput{
			RequestID:  result.RequestID,
			CallStatus: status,
		}); err != nil {
			t.Fatalf("HandleProviderEvent(%s): %v", status, err)
		}
	}
	if got := f.repo.status(t, result.RequestID); got != repository.StatusCompleted {
		t.Errorf("status = %s, want %s", got, repository.StatusCompleted)
	}
}

func TestHandleProviderEventCompletedWithoutBridgeIsStale(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	// completed straight from calling: the answered event never arrived.
	if err := f.svc.HandleProviderEvent(context.Background(), WebhookInput{
		RequestID:  result.RequestID,
		CallStatus: "completed",
	}); err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}

	if got := f.repo.status(t, result.RequestID); got != repository.StatusCalling {
		t.Errorf("status = %s, want unchanged %s", got, repository.StatusCalling)
	}
	if f.repo.auditCount(repository.EventStaleTransition) != 1 {
		t.Errorf("stale_transition audit events = %d, want 1", f.repo.auditCount(repository.EventStaleTransition))
	}
}

func TestHandleProviderEventDuplicateNoAnswerSendsOneSMS(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	for i := 0; i < 3; i++ {
		if err := f.svc.HandleProviderEvent(context.Background(), WebhookInput{
			RequestID:  result.RequestID,
			CallStatus: "no-answer",
		}); err != nil {
			t.Fatalf("HandleProviderEvent delivery %d: %v", i+1, err)
		}
	}

	if got := f.repo.status(t, result.RequestID); got != repository.StatusSMSSentFallback {
		t.Errorf("status = %s, want %s", got, repository.StatusSMSSentFallback)
	}
	if f.gateway.smsCount() != 1 {
		t.Errorf("duplicate deliveries produced %d SMS, want exactly 1", f.gateway.smsCount())
	}
	if f.repo.auditCount(repository.EventStaleTransition) != 2 {
		t.Errorf("stale_transition audit events = %d, want 2", f.repo.auditCount(repository.EventStaleTransition))
	}
}

func TestHandleProviderEventIntermediateStatusesIgnored(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	for _, status := range []string{"initiated", "ringing", "queued"} {
		if err := f.svc.HandleProviderEvent(context.Background(), WebhookInput{
			RequestID:  result.RequestID,
			CallStatus: status,
		}); err != nil {
			t.Fatalf("HandleProviderEvent(%s): %v", status, err)
		}
		if got := f.repo.status(t, result.RequestID); got != repository.StatusCalling {
			t.Errorf("status after %s = %s, want unchanged %s", status, got, repository.StatusCalling)
		}
	}
}

func TestHandleProviderEventUnknownRequest(t *testing.T) {
	f := newFixture(fakeHours{open: true})

	err := f.svc.HandleProviderEvent(context.Background(), WebhookInput{
		RequestID:  uuid.New(),
		CallStatus: "no-answer",
	})
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("error kind = %v, want not found", apperr.GetKind(err))
	}
}

func TestHandleProviderEventStorageFailureIsInternal(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}

	f.repo.updateErr = errors.New("connection reset by peer")

	err = f.svc.HandleProviderEvent(context.Background(), WebhookInput{
		RequestID:  result.RequestID,
		CallStatus: "completed",
	})
	if apperr.GetKind(err) != apperr.KindInternal {
		t.Fatalf("error kind = %v, want internal: a storage fault must not map to 4xx", apperr.GetKind(err))
	}
}

func TestOutsideHoursSMSFailureAmendsMessage(t *testing.T) {
	f := newFixture(fakeHours{open: false, reason: "Outside business hours (weekend)"})
	f.gateway.smsErr = errors.New("sms provider down")

	_, err := f.svc.RequestCallback(context.Background(), validInput())
	if apperr.GetKind(err) != apperr.KindInternal {
		t.Fatalf("error kind = %v, want internal", apperr.GetKind(err))
	}

	// The transition committed before the send; the record stays terminal
	// with the failure noted in its message.
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	for _, req := range f.repo.requests {
		if req.Status != repository.StatusSMSSentHours {
			t.Errorf("status = %s, want %s", req.Status, repository.StatusSMSSentHours)
		}
		if !strings.Contains(req.StatusMessage, "SMS delivery failed") {
			t.Errorf("status message %q should record the delivery failure", req.StatusMessage)
		}
	}
}

func TestExpireCall(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	if err := f.svc.ExpireCall(context.Background(), result.RequestID); err != nil {
		t.Fatalf("ExpireCall: %v", err)
	}
	if got := f.repo.status(t, result.RequestID); got != repository.StatusFailed {
		t.Errorf("status = %s, want %s", got, repository.StatusFailed)
	}

	// A second firing is a no-op.
	if err := f.svc.ExpireCall(context.Background(), result.RequestID); err != nil {
		t.Fatalf("second ExpireCall: %v", err)
	}
}

func TestExpireCallLeavesSettledRequestAlone(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, _ := f.svc.RequestCallback(context.Background(), validInput())

	_ = f.svc.HandleProviderEvent(context.Background(), WebhookInput{
		RequestID:  result.RequestID,
		CallStatus: "answered",
	})

	if err := f.svc.ExpireCall(context.Background(), result.RequestID); err != nil {
		t.Fatalf("ExpireCall: %v", err)
	}
	if got := f.repo.status(t, result.RequestID); got != repository.StatusBridged {
		t.Errorf("status = %s, want unchanged %s", got, repository.StatusBridged)
	}
}

func TestGetStatusAfterCreateNeverNotFound(t *testing.T) {
	f := newFixture(fakeHours{open: true})
	result, err := f.svc.RequestCallback(context.Background(), validInput())
	if err != nil {
		t.Fatalf("RequestCallback: %v", err)
	}

	req, err := f.svc.GetStatus(context.Background(), result.RequestID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if req.ID != result.RequestID {
		t.Errorf("GetStatus returned %s, want %s", req.ID, result.RequestID)
	}

	_, err = f.svc.GetStatus(context.Background(), uuid.New())
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("unknown id error kind = %v, want not found", apperr.GetKind(err))
	}
}
