package orders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 2 * time.Second
)

// OrderFetcher reads a single order from the ledger service.
type OrderFetcher interface {
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
}

// Poller fetches an order until the ledger reports a terminal status. Settlement on
// the ledger may lag the chain notification, so a pending answer is retried after
// a fixed interval.
type Poller struct {
	fetcher     OrderFetcher
	maxAttempts int
	interval    time.Duration
}

// NewPoller creates a Poller. Non-positive values fall back to the defaults.
func NewPoller(fetcher OrderFetcher, maxAttempts int, interval time.Duration) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{fetcher: fetcher, maxAttempts: maxAttempts, interval: interval}
}

// Poll returns the first terminal order. Client errors stop polling at once; service
// errors are retried. When the attempts run out it returns the last order fetched,
// if any, together with a timeout ServiceError.
func (p *Poller) Poll(ctx context.Context, orderID string) (models.Order, error) {
	var (
		last    models.Order
		lastErr error
	)
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		order, err := p.fetcher.GetOrder(ctx, orderID)
		switch {
		case err == nil && order.Status.IsTerminal():
			log.Printf("✅ [POLL ORDER] OrderID=%s | Status=%s | Attempt=%d", orderID, order.Status, attempt)
			return order, nil
		case err == nil:
			last, lastErr = order, nil
		case apperrors.KindOf(err) == apperrors.KindClient:
			return last, err
		default:
			lastErr = err
		}

		if attempt == p.maxAttempts {
			break
		}
		log.Printf("⏳ [POLL ORDER] OrderID=%s | Attempt=%d/%d | Status=%s", orderID, attempt, p.maxAttempts, last.Status)
		select {
		case <-ctx.Done():
			return last, apperrors.Service(apperrors.CodeTimeout, "polling order "+orderID, ctx.Err())
		case <-time.After(p.interval):
		}
	}

	log.Printf("❌ [POLL ORDER] OrderID=%s | Not settled after %d attempts", orderID, p.maxAttempts)
	return last, apperrors.Service(apperrors.CodeTimeout,
		fmt.Sprintf("order %s not settled after %d attempts", orderID, p.maxAttempts), lastErr)
}
