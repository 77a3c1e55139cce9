package models

import (
	"time"

	"github.com/google/uuid"
)

// Order status values
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// Order represents a purchase of relay provisioning
type Order struct {
	ID               string     `json:"id" db:"id"`
	RelayID          string     `json:"relay_id" db:"relay_id"`
	PaymentReference string     `json:"payment_reference" db:"payment_reference"`
	Invoice          string     `json:"invoice,omitempty" db:"invoice"`
	AmountSats       int64      `json:"amount_sats" db:"amount_sats"`
	Paid             bool       `json:"paid" db:"paid"`
	Status           string     `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

// NewOrder creates a pending order for a relay
func NewOrder(relayID, paymentReference, invoice string, amountSats int64) *Order {
	return &Order{
		ID:               uuid.New().String(),
		RelayID:          relayID,
		PaymentReference: paymentReference,
		Invoice:          invoice,
		AmountSats:       amountSats,
		Paid:             false,
		Status:           OrderStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

// MarkPaid transitions the order to paid. Paid is monotonic: once set it
// never reverts.
func (o *Order) MarkPaid(at time.Time) {
	o.Paid = true
	o.Status = OrderStatusPaid
	o.PaidAt = &at
}

// PendingOrder is an order joined with its owning relay, as loaded by a
// reconciliation cycle.
type PendingOrder struct {
	Order *Order `json:"order"`
	Relay *Relay `json:"relay"`
}
