package blockchain

import (
	"github.com/shopspring/decimal"
)

// Direction of a payment relative to the active account.
type Direction string

const (
	DirectionEarn    Direction = "earn"
	DirectionSpend   Direction = "spend"
	DirectionUnknown Direction = "unknown"
)

// Payment is one observed transfer relevant to this account. OrderID is empty when
// the memo did not belong to this application.
type Payment struct {
	OrderID       string
	TransactionID string
	Amount        decimal.Decimal
	Succeeded     bool
	Cause         error
	Direction     Direction
}
