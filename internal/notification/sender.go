package notification

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers notification emails to the business.
type Sender interface {
	SendCallbackRequestedEmail(ctx context.Context, toEmail string, data CallbackEmailData) error
	SendCallMissedEmail(ctx context.Context, toEmail string, data CallbackEmailData) error
}

// CallbackEmailData carries the fields rendered into notification emails.
type CallbackEmailData struct {
	RequestID    string
	VisitorName  string
	VisitorPhone string
	OutsideHours bool
	Reason       string
}

// SMTPSender implements Sender using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendCallbackRequestedEmail(ctx context.Context, toEmail string, data CallbackEmailData) error {
	subject := fmt.Sprintf("New callback request from %s", data.VisitorName)
	content, err := renderEmailTemplate("callback_requested", callbackRequestedTemplate, data)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

func (s *SMTPSender) SendCallMissedEmail(ctx context.Context, toEmail string, data CallbackEmailData) error {
	subject := fmt.Sprintf("Missed callback from %s", data.VisitorName)
	content, err := renderEmailTemplate("call_missed", callMissedTemplate, data)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

// NoopSender discards every email. Used when EMAIL_ENABLED is false so the
// module can stay wired to the bus without SMTP credentials.
type NoopSender struct{}

func (NoopSender) SendCallbackRequestedEmail(context.Context, string, CallbackEmailData) error {
	return nil
}

func (NoopSender) SendCallMissedEmail(context.Context, string, CallbackEmailData) error {
	return nil
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = NoopSender{}
)
