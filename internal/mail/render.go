package mail

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"aurum/api/internal/money"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/repository"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"money": money.Format,
}).ParseFS(templateFS, "templates/*.html"))

type view struct {
	Notice      OrderNotice
	Contact     ContactMessage
	TrackingURL string
	HasQR       bool
}

const qrName = "tracking-qr.png"

// Renderer turns outbox rows into messages.
type Renderer struct {
	tracker *qrcode.Signer
}

func NewRenderer(tracker *qrcode.Signer) *Renderer {
	return &Renderer{tracker: tracker}
}

func (r *Renderer) Render(m repository.OutboxMessage) (*Message, error) {
	out := &Message{To: m.Recipient, Subject: m.Subject}
	var v view
	var name string
	switch m.Kind {
	case repository.MessageOrderConfirmation, repository.MessageStatusUpdate:
		if err := json.Unmarshal([]byte(m.Payload), &v.Notice); err != nil {
			return nil, fmt.Errorf("decode order notice: %w", err)
		}
		v.TrackingURL = r.tracker.URL(v.Notice.OrderID)
		name = "status_update.html"
		if m.Kind == repository.MessageOrderConfirmation {
			name = "order_confirmation.html"
			png, err := r.tracker.PNG(v.Notice.OrderID, 256)
			if err == nil {
				out.Inline = append(out.Inline, Inline{Name: qrName, Data: png})
				v.HasQR = true
			}
		}
		out.Text = orderText(v)
	case repository.MessageContact:
		if err := json.Unmarshal([]byte(m.Payload), &v.Contact); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
		name = "contact.html"
		out.ReplyTo = v.Contact.Email
		out.Text = fmt.Sprintf("From: %s <%s>\n\n%s\n", v.Contact.Name, v.Contact.Email, v.Contact.Body)
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	out.HTML = buf.String()
	return out, nil
}

func orderText(v view) string {
	n := v.Notice
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nYour order %s is %s.\n", n.CustomerName, n.Number, n.Status)
	for _, it := range n.Items {
		fmt.Fprintf(&b, "  %s x%d  %s\n", it.Name, it.Quantity, money.Format(it.LineTotalCents, n.Currency))
	}
	fmt.Fprintf(&b, "Total: %s\n", money.Format(n.TotalCents, n.Currency))
	if n.TrackingNumber != "" {
		fmt.Fprintf(&b, "Carrier tracking number: %s\n", n.TrackingNumber)
	}
	if n.Note != "" {
		fmt.Fprintf(&b, "%s\n", n.Note)
	}
	fmt.Fprintf(&b, "\nTrack your order: %s\n", v.TrackingURL)
	return b.String()
}
