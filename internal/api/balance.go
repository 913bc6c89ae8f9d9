package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// OrderStream is the order status stream of the orders engine.
type OrderStream interface {
	AddOrderObserver(fn func(models.Order)) observable.ObserverID
	RemoveOrderObserver(id observable.ObserverID)
}

// BalanceSnapshot is the balance as shown to clients together with the order
// that is still moving it.
type BalanceSnapshot struct {
	Address      string             `json:"address"`
	Balance      decimal.Decimal    `json:"balance"`
	PendingOrder string             `json:"pending_order,omitempty"`
	LastStatus   models.OrderStatus `json:"last_status,omitempty"`
}

// BalanceView keeps the last order transition and refreshes the wallet balance
// whenever an order leaves pending.
type BalanceView struct {
	wallet WalletService
	orders OrderStream

	mu           sync.Mutex
	pendingOrder string
	lastStatus   models.OrderStatus

	observer observable.ObserverID
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewBalanceView creates a BalanceView subscribed to orders.
func NewBalanceView(wallet WalletService, orders OrderStream) *BalanceView {
	v := &BalanceView{wallet: wallet, orders: orders}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.observer = orders.AddOrderObserver(v.onOrder)
	return v
}

// Close unsubscribes and waits for an in-flight refresh.
func (v *BalanceView) Close() {
	v.orders.RemoveOrderObserver(v.observer)
	v.mu.Lock()
	v.cancel()
	v.mu.Unlock()
	v.wg.Wait()
}

// Snapshot returns the cached balance and the order in flight, if any.
func (v *BalanceView) Snapshot() BalanceSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return BalanceSnapshot{
		Address:      v.wallet.PublicAddress(),
		Balance:      v.wallet.Balance(),
		PendingOrder: v.pendingOrder,
		LastStatus:   v.lastStatus,
	}
}

func (v *BalanceView) onOrder(order models.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastStatus = order.Status

	switch order.Status {
	case models.OrderStatusPending:
		v.pendingOrder = order.ID
	case models.OrderStatusCompleted, models.OrderStatusFailed, models.OrderStatusDelayed:
		if v.pendingOrder == order.ID {
			v.pendingOrder = ""
		}
		v.refresh()
	}
}

// refresh runs off the notifying goroutine. Callers hold v.mu.
func (v *BalanceView) refresh() {
	if v.ctx.Err() != nil {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(v.ctx, 10*time.Second)
		defer cancel()
		balance, err := v.wallet.RefreshBalance(ctx)
		if err != nil {
			log.Printf("⚠️  [API] Balance refresh failed | Error=%v", err)
			return
		}
		log.Printf("✅ [API] Balance refreshed | Balance=%s", balance)
	}()
}
