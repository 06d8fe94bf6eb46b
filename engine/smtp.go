package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"automail/utils"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"
)

// SMTPTransport delivers through each sender's own SMTP account.
type SMTPTransport struct {
	// dial is swapped in tests
	dial func(d *gomail.Dialer, m ...*gomail.Message) error
}

func NewSMTPTransport() *SMTPTransport {
	return &SMTPTransport{
		dial: func(d *gomail.Dialer, m ...*gomail.Message) error {
			return d.DialAndSend(m...)
		},
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (string, error) {
	if msg.Sender == nil || msg.Sender.SMTPHost == "" {
		return "", fmt.Errorf("sender has no SMTP configuration")
	}
	if err := checkmail.ValidateFormat(msg.To); err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	if err := ctx.Err(); err != nil {
		return "", &TransientError{Err: err}
	}

	password, err := utils.Decrypt(msg.Sender.SMTPPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	d := gomail.NewDialer(msg.Sender.SMTPHost, msg.Sender.SMTPPort, msg.Sender.SMTPUsername, password)
	d.TLSConfig = &tls.Config{ServerName: msg.Sender.SMTPHost}

	if err := t.dial(d, buildGomailMessage(msg)); err != nil {
		if IsTransient(err) {
			return "", &TransientError{Err: fmt.Errorf("send failed: %w", err)}
		}
		return "", fmt.Errorf("send failed: %w", err)
	}
	return msg.ID, nil
}

func buildGomailMessage(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", msg.ID, domainOf(msg.From)))
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}
	return m
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
