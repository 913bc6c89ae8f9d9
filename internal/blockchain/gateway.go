package blockchain

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/kvstore"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// Gateway owns the single active chain account and bridges the chain SDK
// listeners into observable balance and payment streams.
type Gateway struct {
	appID    string
	settings *kvstore.Settings

	accountMu    sync.RWMutex
	client       Client
	account      Account
	accountIndex int

	balanceMu       sync.Mutex
	cachedBalance   decimal.Decimal
	balance         *observable.Value[decimal.Decimal]
	balanceListener *refCountedListener

	payments        *observable.Value[Payment]
	paymentListener *refCountedListener

	trustlineMu sync.Mutex
}

// NewGateway creates a gateway over client. Init must run before use.
func NewGateway(appID string, client Client, settings *kvstore.Settings, opts ...observable.Option) *Gateway {
	g := &Gateway{
		appID:    appID,
		settings: settings,
		client:   client,
		balance:  observable.NewValue[decimal.Decimal](opts...),
		payments: observable.NewStream[Payment](opts...),
	}
	g.balanceListener = newRefCountedListener(func() Registration {
		return g.activeAccount().WatchBalance(func(b decimal.Decimal) {
			g.updateBalance(context.Background(), b)
		})
	})
	g.paymentListener = newRefCountedListener(func() Registration {
		return g.activeAccount().WatchPayments(g.onChainPayment)
	})
	return g
}

// Init loads the first local account, creating one when the keystore is empty,
// and restores the cached balance.
func (g *Gateway) Init(ctx context.Context) error {
	g.accountMu.Lock()
	client := g.client
	var (
		account Account
		err     error
	)
	if client.AccountCount() == 0 {
		account, err = client.AddAccount()
		if err == nil {
			log.Printf("✅ [GATEWAY] Local account created | Address=%s", account.PublicAddress())
		}
	} else {
		account, err = client.Account(0)
	}
	if err != nil {
		g.accountMu.Unlock()
		return convertError(err, apperrors.CodeAccountNotFound, "loading local account")
	}
	g.account = account
	g.accountIndex = 0
	g.accountMu.Unlock()

	cached, err := g.settings.Balance(ctx)
	if err != nil {
		log.Printf("⚠️  [GATEWAY] Could not read cached balance: %v", err)
		cached = decimal.Zero
	}
	g.balanceMu.Lock()
	g.cachedBalance = cached
	g.balanceMu.Unlock()
	g.balance.Set(cached)
	return nil
}

func (g *Gateway) activeAccount() Account {
	g.accountMu.RLock()
	defer g.accountMu.RUnlock()
	return g.account
}

// PublicAddress of the active account.
func (g *Gateway) PublicAddress() string {
	account := g.activeAccount()
	if account == nil {
		return ""
	}
	return account.PublicAddress()
}

// AccountIndex of the active account in the keystore.
func (g *Gateway) AccountIndex() int {
	g.accountMu.RLock()
	defer g.accountMu.RUnlock()
	return g.accountIndex
}

// AddressAt returns the public address of a local account without activating it.
func (g *Gateway) AddressAt(index int) (string, error) {
	g.accountMu.RLock()
	client := g.client
	g.accountMu.RUnlock()
	account, err := client.Account(index)
	if err != nil {
		return "", convertError(err, apperrors.CodeAccountNotFound, "loading local account")
	}
	return account.PublicAddress(), nil
}

// ExtractOrderID recovers the order id of a memo written by this application.
func (g *Gateway) ExtractOrderID(memo string) (string, bool) {
	return ExtractOrderID(g.appID, memo)
}

// Balance returns the cached balance.
func (g *Gateway) Balance() decimal.Decimal {
	g.balanceMu.Lock()
	defer g.balanceMu.Unlock()
	return g.cachedBalance
}

// RefreshBalance queries the chain and updates the cache and observers.
func (g *Gateway) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := g.activeAccount().Balance(ctx)
	if err != nil {
		return decimal.Zero, convertError(err, apperrors.CodeAccountNotFound, "fetching balance")
	}
	g.updateBalance(ctx, balance)
	return balance, nil
}

// updateBalance persists and publishes balance only when it changed.
func (g *Gateway) updateBalance(ctx context.Context, balance decimal.Decimal) {
	g.balanceMu.Lock()
	if g.cachedBalance.Equal(balance) {
		g.balanceMu.Unlock()
		return
	}
	g.cachedBalance = balance
	if err := g.settings.SetBalance(ctx, balance); err != nil {
		log.Printf("⚠️  [GATEWAY] Could not persist balance: %v", err)
	}
	g.balanceMu.Unlock()

	g.balance.Set(balance)
}

// AddBalanceObserver registers fn; the first observer opens the live chain
// balance subscription.
func (g *Gateway) AddBalanceObserver(fn func(decimal.Decimal)) observable.ObserverID {
	g.balanceListener.acquire()
	return g.balance.AddObserver(fn)
}

// RemoveBalanceObserver deregisters id; the last removal closes the subscription.
func (g *Gateway) RemoveBalanceObserver(id observable.ObserverID) {
	if g.balance.RemoveObserver(id) {
		g.balanceListener.release()
	}
}

// AddPaymentObserver registers fn for payments; reference counted like balance.
func (g *Gateway) AddPaymentObserver(fn func(Payment)) observable.ObserverID {
	g.paymentListener.acquire()
	return g.payments.AddObserver(fn)
}

func (g *Gateway) RemovePaymentObserver(id observable.ObserverID) {
	if g.payments.RemoveObserver(id) {
		g.paymentListener.release()
	}
}

func (g *Gateway) onChainPayment(info PaymentInfo) {
	orderID, _ := g.ExtractOrderID(info.Memo)

	direction := DirectionUnknown
	switch address := g.PublicAddress(); address {
	case info.DestinationAddress:
		direction = DirectionEarn
	case info.SourceAddress:
		direction = DirectionSpend
	}

	g.payments.Set(Payment{
		OrderID:       orderID,
		TransactionID: info.Hash,
		Amount:        info.Amount,
		Succeeded:     true,
		Direction:     direction,
	})
}

// SendTransaction pays recipient for orderID. Failures never reach the caller: they
// are published as a failed Payment so whoever waits on the order is released.
func (g *Gateway) SendTransaction(ctx context.Context, recipient string, amount decimal.Decimal, orderID, offerID string) {
	log.Printf("➡️ [SEND TRANSACTION] OrderID=%s | OfferID=%s | Amount=%s", orderID, offerID, amount)

	if err := g.EnsureTrustline(ctx); err != nil {
		log.Printf("❌ [SEND TRANSACTION] Trustline failed | OrderID=%s | Error=%v", orderID, err)
		g.publishFailedPayment(orderID, amount, err)
		return
	}

	memo := EncodeMemo(g.appID, orderID)
	txID, err := g.activeAccount().SendTransaction(ctx, recipient, amount, memo)
	if err != nil {
		err = convertError(err, apperrors.CodeTransactionFailed, "sending transaction")
		log.Printf("❌ [SEND TRANSACTION] Failed | OrderID=%s | Error=%v", orderID, err)
		g.publishFailedPayment(orderID, amount, err)
		return
	}

	log.Printf("✅ [SEND TRANSACTION] Submitted | OrderID=%s | TxID=%s", orderID, txID)
}

func (g *Gateway) publishFailedPayment(orderID string, amount decimal.Decimal, cause error) {
	g.payments.Set(Payment{
		OrderID:   orderID,
		Amount:    amount,
		Succeeded: false,
		Cause:     cause,
		Direction: DirectionSpend,
	})
}

// EnsureTrustline activates the trustline once; later calls are no-ops.
func (g *Gateway) EnsureTrustline(ctx context.Context) error {
	g.trustlineMu.Lock()
	defer g.trustlineMu.Unlock()

	established, err := g.settings.TrustlineEstablished(ctx)
	if err != nil {
		log.Printf("⚠️  [GATEWAY] Could not read trustline flag: %v", err)
	}
	if established {
		return nil
	}

	if err := g.activeAccount().ActivateTrustline(ctx); err != nil {
		return convertError(err, apperrors.CodeTrustlineFailed, "activating trustline")
	}
	if err := g.settings.SetTrustlineEstablished(ctx, true); err != nil {
		log.Printf("⚠️  [GATEWAY] Could not persist trustline flag: %v", err)
	}
	log.Printf("✅ [GATEWAY] Trustline established | Address=%s", g.PublicAddress())
	return nil
}

// WatchAccountCreation registers fn for the creation event of the active account.
func (g *Gateway) WatchAccountCreation(fn func()) Registration {
	return g.activeAccount().WatchCreation(fn)
}

// SetActiveAccount swaps the active account to client's account at index. Live
// subscriptions follow the new account.
func (g *Gateway) SetActiveAccount(ctx context.Context, client Client, index int) error {
	account, err := client.Account(index)
	if err != nil {
		return convertError(err, apperrors.CodeAccountNotFound, "loading switched account")
	}

	g.accountMu.Lock()
	g.client = client
	g.account = account
	g.accountIndex = index
	g.accountMu.Unlock()

	if err := g.settings.SetTrustlineEstablished(ctx, false); err != nil {
		log.Printf("⚠️  [GATEWAY] Could not reset trustline flag: %v", err)
	}
	g.balanceListener.reopen()
	g.paymentListener.reopen()

	// The previous wallet's balance must not survive a failed refresh.
	g.updateBalance(ctx, decimal.Zero)
	if _, err := g.RefreshBalance(ctx); err != nil {
		log.Printf("ℹ️ [GATEWAY] Balance unavailable after switch | Address=%s | Error=%v", account.PublicAddress(), err)
	}
	log.Printf("✅ [GATEWAY] Active account switched | Index=%d | Address=%s", index, account.PublicAddress())
	return nil
}

// DeleteAccount removes an inactive local account from the keystore. Keystores
// compact their slots, so the active index shifts down when a lower slot goes.
func (g *Gateway) DeleteAccount(index int) error {
	g.accountMu.Lock()
	defer g.accountMu.Unlock()
	if index == g.accountIndex {
		return apperrors.Client(apperrors.CodeInternalInconsistency,
			fmt.Sprintf("cannot delete the active account at index %d", index), nil)
	}
	if err := g.client.DeleteAccount(index); err != nil {
		return convertError(err, apperrors.CodeAccountNotFound, "deleting local account")
	}
	if index < g.accountIndex {
		g.accountIndex--
	}
	return nil
}
