// Package paypal takes payments through the PayPal Orders v2 REST API.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"aurum/api/internal/money"
	"aurum/api/internal/payment"
)

const ProviderName = "paypal"

// Client talks to PayPal with an OAuth token cached until shortly before it
// expires.
type Client struct {
	http      *resty.Client
	clientID  string
	secret    string
	webhookID string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewClient(baseURL, clientID, secret, webhookID string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(20*time.Second).
			SetHeader("Accept", "application/json"),
		clientID:  clientID,
		secret:    secret,
		webhookID: webhookID,
		now:       time.Now,
	}
}

func (c *Client) Name() string { return ProviderName }

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func responseError(op string, resp *resty.Response, perr *apiError) error {
	if perr != nil && perr.Name != "" {
		return fmt.Errorf("paypal %s: %d %s: %s", op, resp.StatusCode(), perr.Name, perr.Message)
	}
	return fmt.Errorf("paypal %s: %d %s", op, resp.StatusCode(), resp.String())
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.secret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&out).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return "", responseError("token", resp, nil)
	}
	c.token = out.AccessToken
	// Expire a minute early.
	c.tokenExpiry = c.now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, *apiError, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	perr := &apiError{}
	return c.http.R().SetContext(ctx).SetAuthToken(token).SetError(perr), perr, nil
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   amount `json:"amount"`
	CustomID string `json:"custom_id"`
	Links    []link `json:"links"`
}

func (cp *capture) status() (*payment.Status, error) {
	cents, err := money.ParseCents(cp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("capture %s amount: %w", cp.ID, err)
	}
	st := &payment.Status{
		State:       payment.StatePending,
		AmountCents: cents,
		Currency:    cp.Amount.CurrencyCode,
		OrderID:     cp.CustomID,
	}
	if cp.Status == "COMPLETED" {
		st.State = payment.StatePaid
		st.TransactionID = cp.ID
	}
	return st, nil
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type ppOrder struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []link         `json:"links"`
}

func (o *ppOrder) approveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// status maps a PayPal order onto the provider-neutral status. The capture
// id is the transaction id.
func (o *ppOrder) status() (*payment.Status, error) {
	st := &payment.Status{Ref: o.ID, State: payment.StatePending}
	if len(o.PurchaseUnits) > 0 {
		pu := o.PurchaseUnits[0]
		st.OrderID = pu.CustomID
		cents, err := money.ParseCents(pu.Amount.Value)
		if err == nil {
			st.AmountCents = cents
			st.Currency = pu.Amount.CurrencyCode
		}
		if pu.Payments != nil {
			for _, cp := range pu.Payments.Captures {
				if cp.Status != "COMPLETED" {
					continue
				}
				cents, err := money.ParseCents(cp.Amount.Value)
				if err != nil {
					return nil, err
				}
				st.State = payment.StatePaid
				st.TransactionID = cp.ID
				st.AmountCents = cents
				st.Currency = cp.Amount.CurrencyCode
				if cp.CustomID != "" {
					st.OrderID = cp.CustomID
				}
				return st, nil
			}
		}
	}
	switch o.Status {
	case "APPROVED":
		st.State = payment.StateApproved
	case "VOIDED":
		st.State = payment.StateFailed
	}
	return st, nil
}

func (c *Client) CreatePayment(ctx context.Context, req payment.Request) (*payment.Session, error) {
	r, perr, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []purchaseUnit{{
			ReferenceID: req.OrderNumber,
			CustomID:    req.OrderID,
			InvoiceID:   req.OrderNumber,
			Description: req.Description,
			Amount:      amount{CurrencyCode: strings.ToUpper(req.Currency), Value: money.String(req.AmountCents)},
		}},
	}
	if req.ReturnURL != "" {
		body["payment_source"] = map[string]interface{}{
			"paypal": map[string]interface{}{
				"experience_context": map[string]string{
					"return_url":  req.ReturnURL,
					"cancel_url":  req.CancelURL,
					"user_action": "PAY_NOW",
					"brand_name":  "Aurum",
				},
			},
		}
	}
	var out ppOrder
	resp, err := r.
		SetHeader("PayPal-Request-Id", "aurum-order-"+req.OrderID).
		SetBody(body).
		SetResult(&out).
		Post("/v2/checkout/orders")
	if err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("create order", resp, perr)
	}
	return &payment.Session{Provider: ProviderName, Ref: out.ID, ApprovalURL: out.approveURL()}, nil
}

func (c *Client) FetchPayment(ctx context.Context, ref string) (*payment.Status, error) {
	r, perr, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out ppOrder
	resp, err := r.SetResult(&out).Get("/v2/checkout/orders/" + ref)
	if err != nil {
		return nil, fmt.Errorf("paypal get order: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("get order", resp, perr)
	}
	return out.status()
}

// Capture captures an approved PayPal order. Capturing twice is safe: the
// request id makes PayPal replay the first result, and an
// ORDER_ALREADY_CAPTURED answer falls back to reading the order.
func (c *Client) Capture(ctx context.Context, ref string) (*payment.Status, error) {
	r, perr, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out ppOrder
	resp, err := r.
		SetHeader("PayPal-Request-Id", "aurum-capture-"+ref).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{}).
		SetResult(&out).
		Post("/v2/checkout/orders/" + ref + "/capture")
	if err != nil {
		return nil, fmt.Errorf("paypal capture: %w", err)
	}
	if resp.StatusCode() == http.StatusUnprocessableEntity && perr.hasIssue("ORDER_ALREADY_CAPTURED") {
		return c.FetchPayment(ctx, ref)
	}
	if resp.IsError() {
		return nil, responseError("capture", resp, perr)
	}
	return out.status()
}

func (c *Client) Refund(ctx context.Context, transactionID string, amountCents int64, currency string) error {
	r, perr, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := r.
		SetHeader("PayPal-Request-Id", "aurum-refund-"+transactionID).
		SetBody(map[string]interface{}{
			"amount": amount{CurrencyCode: strings.ToUpper(currency), Value: money.String(amountCents)},
		}).
		Post("/v2/payments/captures/" + transactionID + "/refund")
	if err != nil {
		return fmt.Errorf("paypal refund: %w", err)
	}
	if resp.IsError() {
		return responseError("refund", resp, perr)
	}
	return nil
}

// VerifyWebhook asks PayPal whether a delivery carries a valid signature for
// the configured webhook id.
func (c *Client) VerifyWebhook(ctx context.Context, h http.Header, body []byte) error {
	if c.webhookID == "" {
		return errors.New("paypal webhook id not configured")
	}
	r, perr, err := c.request(ctx)
	if err != nil {
		return err
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	resp, err := r.
		SetBody(map[string]interface{}{
			"auth_algo":         h.Get("Paypal-Auth-Algo"),
			"cert_url":          h.Get("Paypal-Cert-Url"),
			"transmission_id":   h.Get("Paypal-Transmission-Id"),
			"transmission_sig":  h.Get("Paypal-Transmission-Sig"),
			"transmission_time": h.Get("Paypal-Transmission-Time"),
			"webhook_id":        c.webhookID,
			"webhook_event":     json.RawMessage(body),
		}).
		SetResult(&out).
		Post("/v1/notifications/verify-webhook-signature")
	if err != nil {
		return fmt.Errorf("paypal verify webhook: %w", err)
	}
	if resp.IsError() {
		return responseError("verify webhook", resp, perr)
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("paypal webhook signature %s", strings.ToLower(out.VerificationStatus))
	}
	return nil
}
