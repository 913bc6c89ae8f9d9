package models

import (
	"time"
)

// OfferType describes the direction of value of an offer.
type OfferType string

const (
	OfferTypeEarn      OfferType = "earn"
	OfferTypeSpend     OfferType = "spend"
	OfferTypePayToUser OfferType = "pay_to_user"
)

// Outgoing reports whether the account pays for this offer type.
func (t OfferType) Outgoing() bool {
	return t == OfferTypeSpend || t == OfferTypePayToUser
}

// Origin tells whether an order came from the marketplace catalog or from a JWT
// issued by the host application.
type Origin string

const (
	OriginMarketplace Origin = "marketplace"
	OriginExternal    Origin = "external"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusDelayed   OrderStatus = "delayed"
)

// IsTerminal reports whether no further transition may follow.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// OrderError is the server supplied failure payload of an order.
type OrderError struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// OrderResult is the payload of a completed order: a signed confirmation or a coupon.
type OrderResult struct {
	Type       string `json:"type"`
	JWT        string `json:"jwt,omitempty"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// Order is the ledger-service view of an attempt to fulfil an offer.
type Order struct {
	ID             string       `json:"id"`
	OfferID        string       `json:"offer_id"`
	OfferType      OfferType    `json:"offer_type"`
	Origin         Origin       `json:"origin"`
	Status         OrderStatus  `json:"status"`
	Amount         int64        `json:"amount"`
	Title          string       `json:"title,omitempty"`
	Description    string       `json:"description,omitempty"`
	Error          *OrderError  `json:"error,omitempty"`
	Result         *OrderResult `json:"result,omitempty"`
	CompletionDate time.Time    `json:"completion_date,omitempty"`
}

// BlockchainData holds the chain side of an open order.
type BlockchainData struct {
	TransactionID    string `json:"transaction_id,omitempty"`
	SenderAddress    string `json:"sender_address,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
}

// OpenOrder is the descriptor returned when an order is created and not yet submitted.
type OpenOrder struct {
	ID             string         `json:"id"`
	OfferID        string         `json:"offer_id"`
	OfferType      OfferType      `json:"offer_type"`
	Amount         int64          `json:"amount"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	BlockchainData BlockchainData `json:"blockchain_data"`
	ExpirationDate time.Time      `json:"expiration_date,omitempty"`
}

// Paging carries cursors of a paginated list.
type Paging struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

type OrderList struct {
	Orders []Order `json:"orders"`
	Paging Paging  `json:"paging"`
}

// OrderFilter narrows the order history query.
type OrderFilter struct {
	OfferID string
	Origin  Origin
}

// Offer is a catalog entry priced in the token.
type Offer struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	Amount      int64     `json:"amount"`
	OfferType   OfferType `json:"offer_type"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content,omitempty"`
}

type OfferList struct {
	Offers []Offer `json:"offers"`
	Paging Paging  `json:"paging"`
}

// ConfirmationStatus is the simplified view of an external order.
type ConfirmationStatus string

const (
	ConfirmationCompleted ConfirmationStatus = "completed"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationPending   ConfirmationStatus = "pending"
)

type OrderConfirmation struct {
	Status ConfirmationStatus `json:"status"`
	JWT    string             `json:"jwt_confirmation,omitempty"`
}

// NewFailedOrder builds the synthetic failed order published when a step fails
// locally and the server never reported a status.
func NewFailedOrder(orderID, offerID string, origin Origin, err error) Order {
	order := Order{
		ID:             orderID,
		OfferID:        offerID,
		Origin:         origin,
		Status:         OrderStatusFailed,
		CompletionDate: time.Now(),
	}
	if err != nil {
		order.Error = &OrderError{Error: "local_failure", Message: err.Error()}
	}
	return order
}
