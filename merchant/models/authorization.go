package models

import "github.com/shopspring/decimal"

type AuthorizationStatus string

const (
	AuthorizationAuthorized AuthorizationStatus = "authorized"
	AuthorizationSettled    AuthorizationStatus = "settled"
	AuthorizationVoided     AuthorizationStatus = "voided"
)

// AuthorizedTransaction is a server-to-server authorization awaiting a
// settle (capture) or a delete (void) in deferred-capture configurations.
type AuthorizedTransaction struct {
	BankTransactionID string
	OrderID           int64
	Amount            decimal.Decimal
	Currency          string
	Status            AuthorizationStatus
}
