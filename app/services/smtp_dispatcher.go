package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/config"
	"gopkg.in/gomail.v2"
)

// SMTPDispatcher implements EmailDispatcher over a plain SMTP relay. It is
// the reference production dispatcher; provider-specific API dispatchers plug
// in behind the same interface.
type SMTPDispatcher struct {
	config *config.EmailConfig
	dialer *gomail.Dialer
}

// NewSMTPDispatcher creates a new SMTP dispatcher
func NewSMTPDispatcher(cfg *config.EmailConfig) *SMTPDispatcher {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	dialer.SSL = cfg.SMTPUseSSL
	return &SMTPDispatcher{
		config: cfg,
		dialer: dialer,
	}
}

// Send delivers one message. Delivery errors come back as an unsuccessful
// result rather than an error: one refused recipient must not abort the
// caller's send loop.
func (s *SMTPDispatcher) Send(ctx context.Context, msg *EmailMessage) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fromEmail := msg.FromEmail
	if fromEmail == "" {
		fromEmail = s.config.DefaultFromEmail
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = s.config.DefaultFromName
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(fromEmail, fromName))
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New(), s.config.SMTPHost)
	m.SetHeader("Message-ID", messageID)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return &SendResult{Success: false, ErrorMessage: err.Error()}, nil
	}

	return &SendResult{Success: true, MessageID: messageID}, nil
}
