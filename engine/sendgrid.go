package engine

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridTransport delivers through the SendGrid v3 API using the
// sender's from identity.
type SendGridTransport struct {
	apiKey  string
	baseURL string // empty means the public API host
}

func NewSendGridTransport(apiKey string) *SendGridTransport {
	return &SendGridTransport{apiKey: apiKey}
}

func (t *SendGridTransport) Send(ctx context.Context, msg *Message) (string, error) {
	from := mail.NewEmail(msg.FromName, msg.From)
	to := mail.NewEmail(msg.ToName, msg.To)

	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	for k, v := range msg.Headers {
		message.SetHeader(k, v)
	}
	message.SetHeader("X-Message-ID", msg.ID)

	client := sendgrid.NewSendClient(t.apiKey)
	if t.baseURL != "" {
		client.BaseURL = t.baseURL + "/v3/mail/send"
	}

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to send email: %w", err)}
	}

	if response.StatusCode == 429 || response.StatusCode >= 500 {
		return "", &TransientError{Err: fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)}
	}
	if response.StatusCode >= 400 {
		return "", fmt.Errorf("sendgrid returned error status %d: %s", response.StatusCode, response.Body)
	}

	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		return ids[0], nil
	}
	return msg.ID, nil
}
