// Package order owns the order lifecycle: the status state machine, the
// append-only status history and payment confirmation.
package order

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

// Sources recorded in the status history.
const (
	SourceCheckout   = "checkout"
	SourceClient     = "client"
	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
	SourceAdmin      = "admin"
	SourceCustomer   = "customer"
)

var transitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  nil,
	StatusRefunded:   nil,
}

// notify lists statuses the customer gets an email for.
var notify = map[string]bool{
	StatusConfirmed: true,
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCancelled: true,
	StatusRefunded:  true,
}

func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s string) bool {
	return ValidStatus(s) && len(transitions[s]) == 0
}

// Paid reports whether an order in status s has had its payment accepted.
func Paid(s string) bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}
