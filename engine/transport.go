package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strings"

	"automail/models"

	"github.com/sirupsen/logrus"
)

// Message is a fully personalized email ready for a transport.
type Message struct {
	ID       string // engine-assigned id, also used for tracking links
	Sender   *models.Sender
	From     string
	FromName string
	ReplyTo  string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// Transport hands a message to an outbound mail system and returns the
// provider message id when one is known.
type Transport interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// TransientError marks a failure worth retrying, e.g. SMTP 4xx or HTTP 429.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// replyCode finds an SMTP reply code at the start of the text or right after
// a "prefix: " added by a wrapping error.
var replyCode = regexp.MustCompile(`(?:^|: )([245])\d\d\b`)

// IsTransient reports whether err looks temporary. Explicit TransientError
// wrapping wins, then network timeouts, then the SMTP reply code: 4xx is
// temporary and 5xx is not. Only text without a reply code falls back to
// wording markers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code/100 == 4
	}

	errStr := strings.ToLower(err.Error())
	if m := replyCode.FindStringSubmatch(errStr); m != nil {
		return m[1] == "4"
	}
	for _, marker := range []string{"try again", "temporary", "timeout", "connection refused"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// NewTransport builds the transport named by MAIL_TRANSPORT.
func NewTransport(kind, sendGridAPIKey string, logger logrus.FieldLogger) (Transport, error) {
	switch kind {
	case "smtp":
		return NewSMTPTransport(), nil
	case "sendgrid":
		if sendGridAPIKey == "" {
			return nil, errors.New("sendgrid transport requires an API key")
		}
		return NewSendGridTransport(sendGridAPIKey), nil
	case "", "log":
		return NewLogTransport(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", kind)
	}
}

// LogTransport writes messages to the log instead of sending them (development mode).
type LogTransport struct {
	log logrus.FieldLogger
}

func NewLogTransport(logger logrus.FieldLogger) *LogTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogTransport{log: logger}
}

func (t *LogTransport) Send(_ context.Context, msg *Message) (string, error) {
	t.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"from":       fmt.Sprintf("%s <%s>", msg.FromName, msg.From),
		"to":         msg.To,
		"subject":    msg.Subject,
	}).Info("📧 Email NOT sent (log transport)")
	return msg.ID, nil
}
