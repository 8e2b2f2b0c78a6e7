package activities

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Notifier delivers a processing confirmation to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMTPNotifier sends mail through a plain SMTP relay.
type SMTPNotifier struct {
	addr string
	from string
}

func NewSMTPNotifier(addr, from string) *SMTPNotifier {
	return &SMTPNotifier{addr: addr, from: from}
}

func (n *SMTPNotifier) Send(_ context.Context, recipient, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + n.from,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(n.addr, nil, n.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", n.addr, err)
	}

	return nil
}

// NoopNotifier drops notifications, used when no relay is configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, string, string, string) error {
	return nil
}
