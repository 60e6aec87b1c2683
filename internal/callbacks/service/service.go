// Package service implements the callback request lifecycle engine: it
// creates request records, initiates the outbound call or SMS, and advances
// request state as provider status events arrive. All state changes go
// through the repository's compare-and-swap contract, which makes duplicate
// and out-of-order webhook deliveries safe.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callback_backend/internal/callbacks/repository"
	"callback_backend/internal/events"
	"callback_backend/internal/telephony"
	"callback_backend/platform/apperr"
	"callback_backend/platform/logger"
	"callback_backend/platform/phone"
)

const (
	msgCaptchaFailed  = "CAPTCHA verification failed. Please try again."
	msgRateLimited    = "Too many callback requests. Please try again later."
	msgProcessFailure = "Failed to process request. Please try again later."
)

// HoursOracle decides call-vs-SMS routing.
type HoursOracle interface {
	IsOpen(now time.Time) (bool, string)
}

// RateLimiter is the stateful per-client request ceiling.
type RateLimiter interface {
	Allow(ctx context.Context, clientKey string) bool
}

// CaptchaVerifier checks visitor CAPTCHA tokens.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

// ExpiryScheduler schedules the watchdog that fails requests stuck in the
// calling state when the provider never delivers a terminal status.
type ExpiryScheduler interface {
	ScheduleCallExpiry(ctx context.Context, requestID uuid.UUID, runAt time.Time) error
}

// Config carries the engine's routing settings.
type Config struct {
	TwilioNumber   string
	BusinessNumber string
	PublicBaseURL  string
	CallExpiry     time.Duration
}

// Service is the lifecycle engine. Invocations for different request ids are
// fully independent; invocations for the same id serialize their effect
// through the repository CAS.
type Service struct {
	repo    repository.Repository
	gateway telephony.Gateway // nil when the provider is not configured
	hours   HoursOracle
	limiter RateLimiter // nil when Redis is not configured
	captcha CaptchaVerifier
	expiry  ExpiryScheduler // nil when the scheduler is not configured
	bus     events.Bus
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
}

// New creates the lifecycle engine.
func New(repo repository.Repository, gateway telephony.Gateway, hours HoursOracle, limiter RateLimiter, captcha CaptchaVerifier, expiry ExpiryScheduler, bus events.Bus, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		hours:   hours,
		limiter: limiter,
		captcha: captcha,
		expiry:  expiry,
		bus:     bus,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// RequestInput is a visitor submission. VisitorNumber is the raw value as
// submitted; the engine normalizes it after the abuse guards have run.
type RequestInput struct {
	VisitorNumber string
	Name          string
	Email         string
	CaptchaToken  string
	ClientIP      string
	UserAgent     string
}

// RequestResult is returned to the visitor on any successfully queued
// outcome (call placed or outside-hours SMS sent).
type RequestResult struct {
	RequestID uuid.UUID
	Message   string
}

// RequestCallback runs the guards in order (rate limit, CAPTCHA, phone
// format) and, if they pass, takes a new request through call initiation or
// the outside-hours SMS path. Gateway failures are absorbed into the SMS
// fallback; the visitor never sees a telephony error, only a validation or
// rate-limit rejection. The guard order matters: an invalid phone number
// still counts against the submitter's rate-limit windows.
func (s *Service) RequestCallback(ctx context.Context, in RequestInput) (RequestResult, error) {
	if s.limiter != nil && !s.limiter.Allow(ctx, in.ClientIP) {
		s.log.RateLimitExceeded(in.ClientIP, "request_callback")
		s.audit(ctx, nil, repository.EventRateLimited, map[string]any{
			"remote_addr": in.ClientIP,
			"user_agent":  in.UserAgent,
		})
		return RequestResult{}, apperr.TooManyRequests(msgRateLimited)
	}

	if !s.captcha.Verify(ctx, in.CaptchaToken, in.ClientIP) {
		s.audit(ctx, nil, repository.EventCaptchaFailed, map[string]any{
			"remote_addr": in.ClientIP,
			"user_agent":  in.UserAgent,
		})
		return RequestResult{}, apperr.Validation(msgCaptchaFailed)
	}

	normalized, err := phone.NormalizeE164(in.VisitorNumber)
	if err != nil {
		return RequestResult{}, err
	}

	now := s.now()
	req := repository.CallbackRequest{
		ID:            uuid.New(),
		VisitorName:   in.Name,
		VisitorEmail:  in.Email,
		VisitorPhone:  normalized,
		Status:        repository.StatusCreated,
		StatusMessage: "Request received",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		s.log.DatabaseError("create callback", err)
		return RequestResult{}, apperr.Wrap(apperr.KindInternal, msgProcessFailure, err)
	}

	s.audit(ctx, &req.ID, repository.EventCreated, map[string]any{
		"visitor_phone": req.VisitorPhone,
		"has_name":      req.VisitorName != "",
		"has_email":     req.VisitorEmail != "",
	})

	if s.gateway == nil {
		// Telephony not configured: keep the request for manual follow-up.
		s.log.Warn("telephony not configured, callback request stored but not processed", "request_id", req.ID)
		return RequestResult{
			RequestID: req.ID,
			Message:   "Request received. We'll get back to you shortly.",
		}, nil
	}

	open, hoursReason := s.hours.IsOpen(now)
	if !open {
		return s.sendOutsideHoursSMS(ctx, req, hoursReason)
	}

	return s.placeCall(ctx, req)
}

// placeCall drives CREATED -> CALLING and, on placement failure,
// CALLING -> SMS_SENT_FALLBACK.
func (s *Service) placeCall(ctx context.Context, req repository.CallbackRequest) (RequestResult, error) {
	if err := s.transition(ctx, req.ID, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusCalling,
		Message:       "Calling business",
		ExpectedPrior: priorsFor(repository.StatusCalling),
	}); err != nil {
		return RequestResult{}, apperr.Wrap(apperr.KindInternal, msgProcessFailure, err)
	}

	callbackURL := fmt.Sprintf("%s/api/v1/twilio/status_callback?request_id=%s", s.cfg.PublicBaseURL, req.ID)
	handle, err := s.gateway.PlaceCall(ctx, s.cfg.BusinessNumber, s.cfg.TwilioNumber, callbackURL)
	if err != nil {
		s.log.Error("call placement failed", "request_id", req.ID, "error", err)
		s.audit(ctx, &req.ID, repository.EventCallFailed, map[string]any{"error": err.Error()})
		s.fallbackSMS(ctx, req, "call placement failed")
		return RequestResult{
			RequestID: req.ID,
			Message:   "Request received. We'll call you back shortly.",
		}, nil
	}

	s.log.CallEvent(req.ID.String(), "initiated", handle.SID)
	s.audit(ctx, &req.ID, repository.EventCallInitiated, map[string]any{"call_sid": handle.SID})

	callSID := handle.SID
	if err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusCalling,
		Message:       "Calling business",
		ExpectedPrior: []repository.Status{repository.StatusCalling},
		CallSID:       &callSID,
	}); err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		s.log.DatabaseError("record call sid", err)
	}

	if s.expiry != nil {
		if err := s.expiry.ScheduleCallExpiry(ctx, req.ID, s.now().Add(s.cfg.CallExpiry)); err != nil {
			s.log.Error("failed to schedule call expiry", "request_id", req.ID, "error", err)
		}
	}

	s.publish(events.CallbackRequested{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    req.ID,
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
	})

	return RequestResult{
		RequestID: req.ID,
		Message:   "Request received. We're connecting you now.",
	}, nil
}

// sendOutsideHoursSMS drives CREATED -> SMS_SENT_HOURS. The transition is
// committed before the send so a retried delivery can never produce a
// second SMS; a send failure is recorded on the terminal state.
func (s *Service) sendOutsideHoursSMS(ctx context.Context, req repository.CallbackRequest, hoursReason string) (RequestResult, error) {
	s.audit(ctx, &req.ID, repository.EventOutsideHours, map[string]any{"reason": hoursReason})

	if err := s.transition(ctx, req.ID, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusSMSSentHours,
		Message:       fmt.Sprintf("SMS sent (%s)", hoursReason),
		ExpectedPrior: priorsFor(repository.StatusSMSSentHours),
	}); err != nil {
		return RequestResult{}, apperr.Wrap(apperr.KindInternal, msgProcessFailure, err)
	}

	body := fmt.Sprintf("Callback request from %s at %s. Received outside business hours. Please call back during business hours.",
		displayName(req.VisitorName), req.VisitorPhone)

	handle, err := s.gateway.SendSMS(ctx, s.cfg.BusinessNumber, s.cfg.TwilioNumber, body)
	if err != nil {
		s.log.Error("outside-hours SMS failed", "request_id", req.ID, "error", err)
		s.audit(ctx, &req.ID, repository.EventSMSFailed, map[string]any{"error": err.Error()})
		s.amendMessage(ctx, req.ID, repository.StatusSMSSentHours, "SMS delivery failed")
		return RequestResult{}, apperr.Wrap(apperr.KindInternal, msgProcessFailure, err)
	}

	s.log.SMSEvent(req.ID.String(), "outside_hours", handle.SID)
	s.audit(ctx, &req.ID, repository.EventSMSSent, map[string]any{"sms_sid": handle.SID, "outside_hours": true})

	smsSID := handle.SID
	if err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusSMSSentHours,
		Message:       fmt.Sprintf("SMS sent (%s)", hoursReason),
		ExpectedPrior: []repository.Status{repository.StatusSMSSentHours},
		SMSSID:        &smsSID,
	}); err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		s.log.DatabaseError("record sms sid", err)
	}

	s.publish(events.CallbackRequested{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    req.ID,
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
		OutsideHours: true,
	})

	return RequestResult{
		RequestID: req.ID,
		Message:   fmt.Sprintf("Request received. %s. We'll call you back during business hours.", hoursReason),
	}, nil
}

// WebhookInput is one provider status event, already authenticated by the
// signature middleware.
type WebhookInput struct {
	RequestID  uuid.UUID
	CallStatus string
	CallSID    string
	ClientIP   string
}

// HandleProviderEvent advances the state machine on an inbound status event.
// Events that are not a valid transition from the current state are recorded
// as stale audit entries and cause no mutation; the provider delivers
// at-least-once and in no guaranteed order.
func (s *Service) HandleProviderEvent(ctx context.Context, in WebhookInput) error {
	switch in.CallStatus {
	case "completed":
		err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
			ID:            in.RequestID,
			NewStatus:     repository.StatusCompleted,
			Message:       "Call completed successfully",
			ExpectedPrior: priorsFor(repository.StatusCompleted),
		})
		switch {
		case err == nil:
			s.log.CallEvent(in.RequestID.String(), "completed", in.CallSID)
			s.audit(ctx, &in.RequestID, repository.EventCallCompleted, map[string]any{"call_sid": in.CallSID})
		case errors.Is(err, repository.ErrStaleTransition):
			s.recordStale(ctx, in)
		default:
			return internalize(err)
		}
		return nil

	case "answered", "in-progress":
		err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
			ID:            in.RequestID,
			NewStatus:     repository.StatusBridged,
			Message:       "Business answered, bridging call",
			ExpectedPrior: priorsFor(repository.StatusBridged),
		})
		switch {
		case err == nil:
			s.log.CallEvent(in.RequestID.String(), "answered", in.CallSID)
			s.audit(ctx, &in.RequestID, repository.EventCallAnswered, map[string]any{"call_sid": in.CallSID})
		case errors.Is(err, repository.ErrStaleTransition):
			s.recordStale(ctx, in)
		default:
			return internalize(err)
		}
		return nil

	case "no-answer", "busy", "failed":
		req, err := s.repo.GetByID(ctx, in.RequestID)
		if err != nil {
			return internalize(err)
		}

		s.audit(ctx, &in.RequestID, repository.EventCallNoAnswer, map[string]any{
			"call_status": in.CallStatus,
			"call_sid":    in.CallSID,
		})
		s.fallbackSMS(ctx, req, fmt.Sprintf("call %s", in.CallStatus))
		return nil

	case "initiated", "ringing", "queued":
		// Intermediate events carry no state of their own.
		s.log.Debug("intermediate call status ignored", "request_id", in.RequestID, "call_status", in.CallStatus)
		return nil

	default:
		s.log.Warn("unknown provider call status", "request_id", in.RequestID, "call_status", in.CallStatus)
		return nil
	}
}

// fallbackSMS drives CALLING -> SMS_SENT_FALLBACK. The CAS is taken before
// the SMS send so that concurrent duplicate deliveries produce exactly one
// SMS: the loser of the race records a stale audit event and stops.
func (s *Service) fallbackSMS(ctx context.Context, req repository.CallbackRequest, reason string) {
	err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusSMSSentFallback,
		Message:       fmt.Sprintf("SMS fallback (%s)", reason),
		ExpectedPrior: priorsFor(repository.StatusSMSSentFallback),
	})
	switch {
	case errors.Is(err, repository.ErrStaleTransition):
		s.audit(ctx, &req.ID, repository.EventStaleTransition, map[string]any{"reason": reason})
		return
	case err != nil:
		s.log.DatabaseError("fallback transition", err)
		return
	}

	body := fmt.Sprintf("Missed callback request from %s at %s. Please call them back.",
		displayName(req.VisitorName), req.VisitorPhone)

	handle, err := s.gateway.SendSMS(ctx, s.cfg.BusinessNumber, s.cfg.TwilioNumber, body)
	if err != nil {
		s.log.Error("fallback SMS failed", "request_id", req.ID, "error", err)
		s.audit(ctx, &req.ID, repository.EventSMSFailed, map[string]any{"error": err.Error()})
		s.amendMessage(ctx, req.ID, repository.StatusSMSSentFallback, "SMS delivery failed")
		return
	}

	s.log.SMSEvent(req.ID.String(), "fallback", handle.SID)
	s.audit(ctx, &req.ID, repository.EventSMSSent, map[string]any{"sms_sid": handle.SID, "reason": reason})

	smsSID := handle.SID
	if err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            req.ID,
		NewStatus:     repository.StatusSMSSentFallback,
		Message:       "SMS sent to business",
		ExpectedPrior: []repository.Status{repository.StatusSMSSentFallback},
		SMSSID:        &smsSID,
	}); err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		s.log.DatabaseError("record sms sid", err)
	}

	s.publish(events.CallMissed{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    req.ID,
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
		Reason:       reason,
	})
}

// ExpireCall fails a request stuck in CALLING past the configured expiry.
// A request that reached any other state in the meantime is left alone.
func (s *Service) ExpireCall(ctx context.Context, requestID uuid.UUID) error {
	err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            requestID,
		NewStatus:     repository.StatusFailed,
		Message:       "Call expired without provider status",
		ExpectedPrior: priorsFor(repository.StatusFailed),
	})
	switch {
	case errors.Is(err, repository.ErrStaleTransition):
		// Normal case: the provider delivered a terminal status in time.
		return nil
	case err != nil:
		return err
	}

	s.log.Warn("callback request expired in calling state", "request_id", requestID)
	s.audit(ctx, &requestID, repository.EventCallExpired, nil)
	return nil
}

// GetStatus returns the current state of a request for status polling.
func (s *Service) GetStatus(ctx context.Context, requestID uuid.UUID) (repository.CallbackRequest, error) {
	return s.repo.GetByID(ctx, requestID)
}

// RecordInvalidSignature audits a webhook delivery rejected by signature
// verification. The target request, if any, is never mutated.
func (s *Service) RecordInvalidSignature(ctx context.Context, requestID *uuid.UUID, payload map[string]any) {
	s.audit(ctx, requestID, repository.EventInvalidSignature, payload)
}

// transition applies a CAS update and audits a stale outcome.
func (s *Service) transition(ctx context.Context, id uuid.UUID, params repository.UpdateStatusParams) error {
	err := s.repo.UpdateStatus(ctx, params)
	if errors.Is(err, repository.ErrStaleTransition) {
		s.audit(ctx, &id, repository.EventStaleTransition, map[string]any{"attempted": string(params.NewStatus)})
	}
	return err
}

// amendMessage updates the status message without changing state.
func (s *Service) amendMessage(ctx context.Context, id uuid.UUID, status repository.Status, message string) {
	if err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:            id,
		NewStatus:     status,
		Message:       message,
		ExpectedPrior: []repository.Status{status},
	}); err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		s.log.DatabaseError("amend status message", err)
	}
}

// audit appends one audit event. Audit failures are logged and never fail
// the request flow.
func (s *Service) audit(ctx context.Context, requestID *uuid.UUID, eventType string, payload map[string]any) {
	event := repository.AuditEvent{
		RequestID: requestID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: s.now(),
	}
	if err := s.repo.AppendAudit(ctx, event); err != nil {
		s.log.DatabaseError("append audit event", err)
	}
}

// internalize marks untyped storage errors as internal so the HTTP layer
// answers 500 and the provider retries the delivery. Already-typed domain
// errors (NotFound on an unknown request id) keep their status.
func internalize(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, msgProcessFailure, err)
}

func (s *Service) recordStale(ctx context.Context, in WebhookInput) {
	s.log.Debug("stale provider event ignored", "request_id", in.RequestID, "call_status", in.CallStatus)
	s.audit(ctx, &in.RequestID, repository.EventStaleTransition, map[string]any{
		"call_status": in.CallStatus,
		"call_sid":    in.CallSID,
	})
}

func (s *Service) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(context.Background(), event)
	}
}

func displayName(name string) string {
	if name == "" {
		return "visitor"
	}
	return name
}
