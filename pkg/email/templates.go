package email

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Ramsey-B/courier/pkg/fanout"
)

const signature = "\n\nBest regards,\nCourier Team"

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(body + signature)),
	}
}

var templates = map[string]messageTemplate{
	fanout.TemplateRequestCreated: mustTemplate(fanout.TemplateRequestCreated,
		"Request Created Successfully",
		`Hi {{.name}},

Your delivery request for "{{.product_name}}" has been created successfully.

Request ID: {{.request_id}}

We'll notify you when an agent claims your request.`),

	fanout.TemplateRequestClaimed: mustTemplate(fanout.TemplateRequestClaimed,
		"Your Request Has Been Claimed",
		`Hi {{.name}},

{{if .agent_name}}{{.agent_name}}{{else}}An agent{{end}} has claimed your delivery request for "{{.product_name}}".

They will provide you with a resolution soon.`),

	fanout.TemplateRequestStatusUpdated: mustTemplate(fanout.TemplateRequestStatusUpdated,
		"Your Request Is Now {{.status}}",
		`Hi {{.name}},

Your delivery request for "{{.product_name}}" moved from {{.previous_status}} to {{.status}}.{{if .reason}}

Reason: {{.reason}}{{end}}`),

	fanout.TemplateResolutionProvided: mustTemplate(fanout.TemplateResolutionProvided,
		"Resolution Provided for Your Request",
		`Hi {{.name}},

An agent has provided a resolution for your delivery request "{{.product_name}}".

Total Cost: ${{printf "%.2f" .total}}
Estimated Delivery: {{.estimated_days}} days

Please log in to accept or reject the resolution.`),

	fanout.TemplateResolutionAccepted: mustTemplate(fanout.TemplateResolutionAccepted,
		"Customer Accepted Your Resolution",
		`Hi {{.name}},

The customer has accepted your resolution for "{{.product_name}}".

You can now proceed with the delivery.`),

	fanout.TemplateResolutionRejected: mustTemplate(fanout.TemplateResolutionRejected,
		"Customer Rejected Your Resolution",
		`Hi {{.name}},

The customer has rejected your resolution for "{{.product_name}}".{{if .notes}}

Reason: {{.notes}}{{end}}`),
}

// Render produces the subject and body for a known template.
func Render(name string, data map[string]any) (string, string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s body: %w", name, err)
	}
	return subject.String(), body.String(), nil
}
