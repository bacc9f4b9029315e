package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"filingwatch/internal/domain"
)

var subjectTmpl = template.Must(template.New("subject").Parse(
	`{{if .Amended}}Amended filing{{else}}New filing{{end}}: {{.EntityName}} ({{.ReportType}}, {{.Cycle}})`,
))

var bodyTmpl = template.Must(template.New("body").Parse(
	`{{.EntityName}} filed a {{.ReportType}} report for the {{.Cycle}} cycle{{if .Amended}} (amendment){{end}}.

Period: {{.PeriodStart.Format "Jan 2, 2006"}} to {{.PeriodEnd.Format "Jan 2, 2006"}}
Receipts: ${{.Receipts}}
Disbursements: ${{.Disbursements}}
`,
))

// renderNotification turns a queue entry's payload into the message handed
// to the delivery channel.
func renderNotification(entry *domain.QueueEntry) (*domain.Notification, error) {
	var p domain.NotificationPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var subject, body strings.Builder
	if err := subjectTmpl.Execute(&subject, p); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := bodyTmpl.Execute(&body, p); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &domain.Notification{
		Recipient: entry.Subscriber,
		Subject:   subject.String(),
		Body:      body.String(),
		FilingKey: entry.FilingKey,
		Kind:      string(entry.Kind),
	}, nil
}
