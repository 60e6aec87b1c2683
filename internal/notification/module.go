// Package notification sends business-facing emails in response to domain
// events. The callbacks module publishes events and never touches email
// providers directly.
package notification

import (
	"context"

	"callback_backend/internal/events"
	"callback_backend/platform/config"
	"callback_backend/platform/logger"
)

// Module handles notification-related event subscriptions.
type Module struct {
	sender Sender
	cfg    config.NotificationConfig
	log    *logger.Logger
}

// New creates the notification module. When email is disabled a NoopSender
// keeps the subscriptions harmless.
func New(cfg config.NotificationConfig, log *logger.Logger) *Module {
	var sender Sender = NoopSender{}
	if cfg.IsEmailEnabled() {
		sender = NewSMTPSender(
			cfg.GetSMTPHost(),
			cfg.GetSMTPPort(),
			cfg.GetSMTPUsername(),
			cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(),
			cfg.GetEmailFromName(),
		)
	}

	return &Module{
		sender: sender,
		cfg:    cfg,
		log:    log,
	}
}

// RegisterHandlers subscribes to the callback domain events on the bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CallbackRequested{}.EventName(), m)
	bus.Subscribe(events.CallMissed{}.EventName(), m)
	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallbackRequested:
		return m.handleCallbackRequested(ctx, e)
	case events.CallMissed:
		return m.handleCallMissed(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleCallbackRequested(ctx context.Context, e events.CallbackRequested) error {
	toEmail := m.cfg.GetBusinessEmail()
	if toEmail == "" {
		return nil
	}

	err := m.sender.SendCallbackRequestedEmail(ctx, toEmail, CallbackEmailData{
		RequestID:    e.RequestID.String(),
		VisitorName:  displayName(e.VisitorName),
		VisitorPhone: e.VisitorPhone,
		OutsideHours: e.OutsideHours,
	})
	if err != nil {
		m.log.Error("failed to send callback requested email",
			"requestId", e.RequestID,
			"error", err,
		)
		return err
	}
	m.log.Info("callback requested email sent", "requestId", e.RequestID)
	return nil
}

func (m *Module) handleCallMissed(ctx context.Context, e events.CallMissed) error {
	toEmail := m.cfg.GetBusinessEmail()
	if toEmail == "" {
		return nil
	}

	err := m.sender.SendCallMissedEmail(ctx, toEmail, CallbackEmailData{
		RequestID:    e.RequestID.String(),
		VisitorName:  displayName(e.VisitorName),
		VisitorPhone: e.VisitorPhone,
		Reason:       e.Reason,
	})
	if err != nil {
		m.log.Error("failed to send call missed email",
			"requestId", e.RequestID,
			"error", err,
		)
		return err
	}
	m.log.Info("call missed email sent", "requestId", e.RequestID)
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "a visitor"
	}
	return name
}
