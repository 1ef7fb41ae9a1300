// Package paymenttest provides an in-memory payment.Provider for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"aurum/api/internal/payment"
)

// Fake records sessions and lets tests decide what FetchPayment reports.
type Fake struct {
	ProviderName string

	mu        sync.Mutex
	seq       int
	Sessions  map[string]payment.Request
	Statuses  map[string]*payment.Status
	Refunds   []string
	CreateErr error
	FetchErr  error
	RefundErr error
}

func New(name string) *Fake {
	return &Fake{
		ProviderName: name,
		Sessions:     map[string]payment.Request{},
		Statuses:     map[string]*payment.Status{},
	}
}

func (f *Fake) Name() string { return f.ProviderName }

func (f *Fake) CreatePayment(_ context.Context, req payment.Request) (*payment.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	ref := fmt.Sprintf("%s_ref_%d", f.ProviderName, f.seq)
	f.Sessions[ref] = req
	return &payment.Session{
		Provider:     f.ProviderName,
		Ref:          ref,
		ClientSecret: ref + "_secret",
		ApprovalURL:  "https://pay.example.com/" + ref,
	}, nil
}

// MarkPaid makes FetchPayment report the session as paid with txnID.
func (f *Fake) MarkPaid(ref, txnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.Sessions[ref]
	f.Statuses[ref] = &payment.Status{
		Ref: ref, State: payment.StatePaid, TransactionID: txnID,
		AmountCents: req.AmountCents, Currency: req.Currency, OrderID: req.OrderID,
	}
}

func (f *Fake) FetchPayment(_ context.Context, ref string) (*payment.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	if st, ok := f.Statuses[ref]; ok {
		cp := *st
		return &cp, nil
	}
	req, ok := f.Sessions[ref]
	if !ok {
		return nil, fmt.Errorf("no such session %q", ref)
	}
	return &payment.Status{Ref: ref, State: payment.StatePending, OrderID: req.OrderID, AmountCents: req.AmountCents, Currency: req.Currency}, nil
}

// SetState overrides the state FetchPayment reports for ref.
func (f *Fake) SetState(ref string, state payment.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.Sessions[ref]
	f.Statuses[ref] = &payment.Status{
		Ref: ref, State: state, AmountCents: req.AmountCents, Currency: req.Currency, OrderID: req.OrderID,
	}
}

func (f *Fake) Refund(_ context.Context, txnID string, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return f.RefundErr
	}
	f.Refunds = append(f.Refunds, txnID)
	return nil
}

func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}
