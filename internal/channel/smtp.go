package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds the connection settings for the email adapter.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailAdapter delivers over SMTP. Email has no delivery receipt, so
// confirmation of these messages relies entirely on the optimistic timeout.
type EmailAdapter struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Adapter = (*EmailAdapter)(nil)

func NewEmailAdapter(cfg SMTPConfig) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, send: smtp.SendMail}
}

func (e *EmailAdapter) AttemptDelivery(_ context.Context, recipient, body string) Result {
	if !strings.Contains(recipient, "@") {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("not an email address: %q", recipient)}
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	msg.WriteString("Subject: New message\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)

	if err := e.send(addr, auth, e.cfg.From, []string{recipient}, []byte(msg.String())); err != nil {
		// SMTP failures are overwhelmingly transient from the pipeline's
		// point of view (connection, auth, greylisting); permanent
		// recipient problems surface as rejections on the next channel
		// anyway once retries run out.
		return Result{Status: StatusTransientFailure, Reason: fmt.Sprintf("smtp send: %v", err)}
	}
	return Result{Status: StatusAccepted}
}
