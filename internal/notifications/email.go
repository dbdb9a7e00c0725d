package notifications

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/iglaboq/shop/internal/domain"
)

// emailData is the render context shared by all email templates.
type emailData struct {
	Order       domain.Order
	Journal     domain.Journal
	TrackingURL string
}

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "order_paid"}}<html><body>
<p>Payment received. Order #{{.Order.ID}} is confirmed.</p>
<p>{{.Journal.Title}} &times;{{.Order.Quantity}}<br>
Total: {{.Order.Amount.StringFixed 2}} {{.Order.Currency}}</p>
<p>Delivery to:<br>
{{.Order.Delivery.FullName}}<br>
{{.Order.Delivery.City}}, {{.Order.Delivery.Postcode}}</p>
</body></html>{{end}}

{{define "order_shipped"}}<html><body>
<p>Order #{{.Order.ID}} has shipped.</p>
<p>Tracking number: {{.Order.TrackNumber}}<br>
<a href="{{.TrackingURL}}">Track your parcel</a></p>
</body></html>{{end}}

{{define "delivery_updated"}}<html><body>
<p>Delivery details for order #{{.Order.ID}} were updated:</p>
<p>{{.Order.Delivery.FullName}}<br>
{{.Order.Delivery.City}}, {{.Order.Delivery.Postcode}}<br>
Phone: {{.Order.Delivery.Phone}}</p>
</body></html>{{end}}

{{define "tracking_updated"}}<html><body>
<p>Tracking number for order #{{.Order.ID}} was updated: {{.Order.TrackNumber}}</p>
<p><a href="{{.TrackingURL}}">Track your parcel</a></p>
</body></html>{{end}}
`))

func renderEmail(name string, data emailData) (string, error) {
	var buf strings.Builder
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render email %q: %w", name, err)
	}
	return buf.String(), nil
}

// SMTPMailer sends HTML mail through a configured SMTP client.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer constructs an SMTPMailer validating required dependencies.
func NewSMTPMailer(client *mail.Client, from string) (*SMTPMailer, error) {
	if client == nil {
		return nil, errors.New("notifications: smtp client is required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("notifications: sender address is required")
	}
	return &SMTPMailer{client: client, from: from}, nil
}

// Send delivers one HTML message to the recipient.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
