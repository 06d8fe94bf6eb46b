package engine

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"automail/models"
	"automail/utils"
)

// Personalizer turns a claimed send into a concrete message. It is a pure
// function of the loaded rows and the message id.
type Personalizer interface {
	Personalize(send *models.ScheduledSend, messageID string) (*Message, error)
}

// MergeData is exposed to step templates, e.g. {{.FirstName}} or {{.UnsubscribeURL}}.
type MergeData struct {
	FirstName      string
	LastName       string
	Email          string
	Company        string
	Position       string
	SenderName     string
	UnsubscribeURL string
}

// TemplatePersonalizer merges contact fields into the step content, adds the
// unsubscribe link and injects open/click tracking when the sender wants it.
type TemplatePersonalizer struct {
	TrackingBaseURL    string
	UnsubscribeBaseURL string
}

func (p *TemplatePersonalizer) Personalize(send *models.ScheduledSend, messageID string) (*Message, error) {
	enrollment := &send.Enrollment
	lead := &enrollment.Lead
	sender := &enrollment.Sequence.Sender
	step := &send.Step

	subject, body, text := step.Subject, step.Body, ""
	if step.Template != nil {
		subject = step.Template.Subject
		body = step.Template.HTMLContent
		text = step.Template.TextContent
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("step %d has no subject", step.StepOrder)
	}

	data := MergeData{
		FirstName:  lead.FirstName,
		LastName:   lead.LastName,
		Email:      lead.Email,
		Company:    lead.Company,
		Position:   lead.Position,
		SenderName: sender.FromName,
	}
	if p.UnsubscribeBaseURL != "" {
		data.UnsubscribeURL = utils.GenerateUnsubscribeURL(p.UnsubscribeBaseURL, enrollment.ID)
	}

	var err error
	if subject, err = renderText("subject", subject, data); err != nil {
		return nil, err
	}
	if text != "" {
		if text, err = renderText("text", text, data); err != nil {
			return nil, err
		}
	}
	html, err := renderHTML(body, data)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if data.UnsubscribeURL != "" {
		if !strings.Contains(html, data.UnsubscribeURL) {
			html += fmt.Sprintf(`<p style="font-size:12px;color:#7f8c8d"><a href="%s">Unsubscribe</a></p>`, data.UnsubscribeURL)
		}
		headers["List-Unsubscribe"] = "<" + data.UnsubscribeURL + ">"
		headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}

	if base := p.trackingBase(sender); base != "" && (sender.TrackOpens || sender.TrackClicks) {
		html = utils.InjectTracking(html, base, messageID)
	}

	return &Message{
		ID:       messageID,
		Sender:   sender,
		From:     sender.FromEmail,
		FromName: sender.FromName,
		ReplyTo:  sender.ReplyTo,
		To:       lead.Email,
		ToName:   strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		Subject:  subject,
		HTML:     html,
		Text:     text,
		Headers:  headers,
	}, nil
}

func (p *TemplatePersonalizer) trackingBase(sender *models.Sender) string {
	if sender.CustomTrackingDomain != "" {
		return "https://" + strings.TrimSuffix(sender.CustomTrackingDomain, "/")
	}
	return strings.TrimSuffix(p.TrackingBaseURL, "/")
}

func renderText(name, tmpl string, data MergeData) (string, error) {
	t, err := texttemplate.New(name).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("error parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing %s template: %w", name, err)
	}
	return buf.String(), nil
}

func renderHTML(tmpl string, data MergeData) (string, error) {
	t, err := htmltemplate.New("body").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("error parsing body template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing body template: %w", err)
	}
	return buf.String(), nil
}
