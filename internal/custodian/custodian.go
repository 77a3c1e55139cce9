// Package custodian talks to the Lightning payment custodian that holds
// invoices for relay orders.
package custodian

import "context"

// Custodian is the payment custodian abstraction consumed by the
// reconciliation engine. Implementations must be safe for concurrent use.
type Custodian interface {
	// CreateInvoice asks the custodian for a new invoice and returns its
	// payment reference and bolt11 payment request.
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error)

	// CheckInvoice queries settlement status for a payment reference.
	CheckInvoice(ctx context.Context, paymentReference string) (*InvoiceStatus, error)
}

// Invoice is a freshly created custodian invoice
type Invoice struct {
	PaymentReference string `json:"payment_hash"`
	PaymentRequest   string `json:"payment_request"`
}

// InvoiceDetails is the nested detail shape some custodian responses carry
type InvoiceDetails struct {
	Pending bool  `json:"pending"`
	Amount  int64 `json:"amount"`
	Time    int64 `json:"time"`
}

// InvoiceStatus is the custodian's view of an invoice. The upstream API is
// inconsistent about how it reports settlement: some responses carry a
// top-level paid flag, others only a details object whose pending flag has
// flipped to false. Both shapes are preserved here.
type InvoiceStatus struct {
	Paid    bool            `json:"paid"`
	Details *InvoiceDetails `json:"details,omitempty"`
}

// Settled reports whether the invoice is considered paid. Either recognized
// signal is sufficient; an ambiguous response counts as not yet settled.
func (s *InvoiceStatus) Settled() bool {
	if s == nil {
		return false
	}
	if s.Paid {
		return true
	}
	return s.Details != nil && !s.Details.Pending
}
