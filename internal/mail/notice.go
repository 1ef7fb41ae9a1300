package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"aurum/api/internal/db"
	"aurum/api/internal/repository"
)

// OrderNotice is the outbox payload for order emails.
type OrderNotice struct {
	OrderID        string       `json:"orderId"`
	Number         string       `json:"number"`
	CustomerName   string       `json:"customerName"`
	Status         string       `json:"status"`
	Note           string       `json:"note,omitempty"`
	TrackingNumber string       `json:"trackingNumber,omitempty"`
	Currency       string       `json:"currency"`
	SubtotalCents  int64        `json:"subtotalCents"`
	DiscountCents  int64        `json:"discountCents"`
	ShippingCents  int64        `json:"shippingCents"`
	TaxCents       int64        `json:"taxCents"`
	TotalCents     int64        `json:"totalCents"`
	Items          []NoticeItem `json:"items"`
}

type NoticeItem struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

// ContactMessage is the outbox payload for the contact form.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EnqueueOrderNotice queues the email for o's current status. Call it with
// the transaction that changed the status.
func EnqueueOrderNotice(ctx context.Context, q db.Querier, o *repository.Order, note string) error {
	n := OrderNotice{
		OrderID:        o.ID,
		Number:         o.Number,
		CustomerName:   o.CustomerName,
		Status:         o.Status,
		Note:           note,
		TrackingNumber: o.TrackingNumber,
		Currency:       o.Currency,
		SubtotalCents:  o.SubtotalCents,
		DiscountCents:  o.DiscountCents,
		ShippingCents:  o.ShippingCents,
		TaxCents:       o.TaxCents,
		TotalCents:     o.TotalCents,
	}
	for _, it := range o.Items {
		n.Items = append(n.Items, NoticeItem{Name: it.Name, Quantity: it.Quantity, LineTotalCents: it.LineTotalCents})
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	kind := repository.MessageStatusUpdate
	subject := fmt.Sprintf("Your Aurum order %s is %s", o.Number, o.Status)
	if o.Status == "confirmed" && note == "" {
		kind = repository.MessageOrderConfirmation
		subject = fmt.Sprintf("Thank you for your order %s", o.Number)
	}
	_, err = repository.EnqueueMessage(ctx, q, kind, o.Email, subject, string(payload))
	return err
}

func EnqueueContact(ctx context.Context, q db.Querier, inbox string, c ContactMessage) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = repository.EnqueueMessage(ctx, q, repository.MessageContact, inbox, "Contact: "+c.Subject, string(payload))
	return err
}
