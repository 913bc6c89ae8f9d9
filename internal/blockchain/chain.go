package blockchain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
)

// Registration cancels a listener registered on a chain account.
type Registration interface {
	Remove()
}

// PaymentInfo is a transfer as reported by the chain SDK.
type PaymentInfo struct {
	Hash               string
	Memo               string
	SourceAddress      string
	DestinationAddress string
	Amount             decimal.Decimal
	CreatedAt          time.Time
}

// Account is one keypair-backed account of the chain SDK.
type Account interface {
	PublicAddress() string
	Balance(ctx context.Context) (decimal.Decimal, error)
	SendTransaction(ctx context.Context, to string, amount decimal.Decimal, memo string) (string, error)
	ActivateTrustline(ctx context.Context) error
	WatchCreation(fn func()) Registration
	WatchBalance(fn func(decimal.Decimal)) Registration
	WatchPayments(fn func(PaymentInfo)) Registration
}

// Client is the chain SDK keystore holding the local accounts.
type Client interface {
	AccountCount() int
	Account(index int) (Account, error)
	AddAccount() (Account, error)
	DeleteAccount(index int) error
}

// Errors the chain SDK reports.
var (
	ErrAccountNotFound     = errors.New("account not found on chain")
	ErrAccountNotActivated = errors.New("account not activated")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoLocalAccount      = errors.New("no local account at index")
)

// convertError maps chain SDK errors to the application taxonomy. fallback is the
// code used for anything not recognised.
func convertError(err error, fallback int, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrAccountNotActivated):
		return apperrors.Blockchain(apperrors.CodeAccountNotActivated, message, err)
	case errors.Is(err, ErrInsufficientFunds):
		return apperrors.Blockchain(apperrors.CodeInsufficientFunds, message, err)
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrNoLocalAccount):
		return apperrors.Blockchain(apperrors.CodeAccountNotFound, message, err)
	default:
		return apperrors.Blockchain(fallback, message, err)
	}
}
