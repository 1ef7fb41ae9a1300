// Package payment defines what the order flow needs from a payment provider.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownProvider = errors.New("unknown payment provider")

// Request opens a payment for an order.
type Request struct {
	OrderID     string
	OrderNumber string
	Email       string
	AmountCents int64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}

// Session is what the client needs to finish paying.
type Session struct {
	Provider     string `json:"provider"`
	Ref          string `json:"ref"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ApprovalURL  string `json:"approvalUrl,omitempty"`
}

type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StatePaid     State = "paid"
	StateFailed   State = "failed"
)

// Status is the provider's view of a payment session. TransactionID is set
// once money has moved and is the key payments are deduplicated on.
type Status struct {
	Ref           string
	State         State
	TransactionID string
	AmountCents   int64
	Currency      string
	OrderID       string
}

type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req Request) (*Session, error)
	FetchPayment(ctx context.Context, ref string) (*Status, error)
	Refund(ctx context.Context, transactionID string, amountCents int64, currency string) error
}

// Capturer is implemented by providers where an approved payment still has
// to be captured by the merchant.
type Capturer interface {
	Capture(ctx context.Context, ref string) (*Status, error)
}

// Canceler is implemented by providers whose open sessions can be closed so
// they can no longer be paid.
type Canceler interface {
	CancelPayment(ctx context.Context, ref string) error
}

// Registry maps provider names to configured providers.
type Registry map[string]Provider

func NewRegistry(providers ...Provider) Registry {
	r := Registry{}
	for _, p := range providers {
		if p != nil {
			r[p.Name()] = p
		}
	}
	return r
}

func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists configured providers in a stable order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
