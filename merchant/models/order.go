package models

import "github.com/shopspring/decimal"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

// Terminal success states: a callback must never regress an order out of
// these.
func (s OrderStatus) Paid() bool {
	return s == OrderCompleted || s == OrderProcessing
}

// Gateway metadata keys attached to an order.
const (
	MetaZeroAmountFix     = "gestpay_fix_amount_zero"
	MetaBankTransactionID = "gestpay_bank_tid"
	MetaTransactionKey    = "gestpay_s2s_transaction_key"
	MetaCardToken         = "gestpay_cc_token"
)

// Order is the slice of the externally-owned order entity this integration
// is allowed to touch. Orders are never created or destroyed here.
type Order struct {
	ID         int64
	CustomerID string
	Total      decimal.Decimal
	Currency   string
	Status     OrderStatus

	// Recurring marks orders that are part of a subscription
	// relationship; only those are eligible for token storage.
	Recurring bool

	Metadata map[string]string
	Notes    []string
}

func (o *Order) Meta(key string) string {
	if o.Metadata == nil {
		return ""
	}
	return o.Metadata[key]
}
