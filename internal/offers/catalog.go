package offers

import (
	"context"
	"log"
	"sync"

	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// Source fetches the remote offer catalog.
type Source interface {
	GetOffers(ctx context.Context) (models.OfferList, error)
}

// OrderStream is the order status stream of the orders engine.
type OrderStream interface {
	AddOrderObserver(fn func(models.Order)) observable.ObserverID
	RemoveOrderObserver(id observable.ObserverID)
}

// Catalog caches the remote offers and merges in offers registered by the host
// application. An offer whose order went pending is hidden until the next fetch.
type Catalog struct {
	source Source
	orders OrderStream

	mu       sync.Mutex
	native   []models.Offer
	remote   []models.Offer
	observer observable.ObserverID
}

// NewCatalog creates a Catalog subscribed to the order stream.
func NewCatalog(source Source, orders OrderStream) *Catalog {
	c := &Catalog{source: source, orders: orders}
	c.observer = orders.AddOrderObserver(c.onOrder)
	return c
}

// Close stops following the order stream.
func (c *Catalog) Close() {
	c.orders.RemoveOrderObserver(c.observer)
}

// Refresh replaces the remote offers. On failure the cached list is kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	list, err := c.source.GetOffers(ctx)
	if err != nil {
		log.Printf("❌ [OFFERS] Refresh failed | Error=%v", err)
		return err
	}

	c.mu.Lock()
	c.remote = append([]models.Offer(nil), list.Offers...)
	c.mu.Unlock()
	log.Printf("✅ [OFFERS] Refreshed | Count=%d", len(list.Offers))
	return nil
}

// Offers returns the native offers followed by the remote ones.
func (c *Catalog) Offers() []models.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Offer, 0, len(c.native)+len(c.remote))
	out = append(out, c.native...)
	return append(out, c.remote...)
}

// AddNativeOffer prepends offer. It returns false when an offer with the same id
// is already registered.
func (c *Catalog) AddNativeOffer(offer models.Offer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.native {
		if o.ID == offer.ID {
			return false
		}
	}
	c.native = append([]models.Offer{offer}, c.native...)
	return true
}

// RemoveNativeOffer removes the native offer with offer's id.
func (c *Catalog) RemoveNativeOffer(offer models.Offer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.native {
		if o.ID == offer.ID {
			c.native = append(c.native[:i], c.native[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Catalog) onOrder(order models.Order) {
	if order.Status != models.OrderStatusPending {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.remote {
		if o.ID == order.OfferID {
			c.remote = append(c.remote[:i], c.remote[i+1:]...)
			log.Printf("ℹ️ [OFFERS] Hiding offer with a pending order | OfferID=%s | OrderID=%s", order.OfferID, order.ID)
			return
		}
	}
}
