package orders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

// ExecuteExternalOrder runs an order described by a JWT issued by the host
// application: create, pay (spend) or submit (earn), wait for the chain payment,
// then poll the ledger until the order settles.
func (e *Engine) ExecuteExternalOrder(ctx context.Context, jwt string) (models.OrderConfirmation, error) {
	ctx, span := e.tracer.Start(ctx, "ExecuteExternalOrder")
	defer span.End()

	open, err := e.ledger.CreateExternalOrder(ctx, jwt)
	if existing, ok := apperrors.ConflictingOrderID(err); ok {
		log.Printf("ℹ️ [EXTERNAL ORDER] Order already exists, polling it | OrderID=%s", existing)
		span.AddEvent("order already exists", trace.WithAttributes(attribute.String("order_id", existing)))
		order, err := e.settle(ctx, existing, "", models.OriginExternal)
		return confirmationOf(order), err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create external order failed")
		log.Printf("❌ [EXTERNAL ORDER] Create failed | Error=%v", err)
		return models.OrderConfirmation{}, err
	}

	span.SetAttributes(attribute.String("order_id", open.ID), attribute.String("offer_type", string(open.OfferType)))
	log.Printf("➡️ [EXTERNAL ORDER] OrderID=%s | OfferID=%s | Type=%s | Amount=%d", open.ID, open.OfferID, open.OfferType, open.Amount)

	t := e.track(open.ID, open.OfferID, models.OriginExternal, true)
	defer e.release(open.ID)

	if err := e.startExternalOrder(ctx, open); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "external order failed")
		return confirmationOf(models.NewFailedOrder(open.ID, open.OfferID, models.OriginExternal, err)), err
	}

	timer := time.NewTimer(e.paymentWait)
	defer timer.Stop()
	select {
	case p := <-t.payments:
		if !p.Succeeded {
			cause := paymentCause(p)
			log.Printf("❌ [EXTERNAL ORDER] Payment failed | OrderID=%s | Error=%v", open.ID, cause)
			failed := models.NewFailedOrder(open.ID, open.OfferID, models.OriginExternal, cause)
			e.publish(failed)
			return confirmationOf(failed), cause
		}
		log.Printf("✅ [EXTERNAL ORDER] Payment seen | OrderID=%s | TxID=%s", open.ID, p.TransactionID)
	case <-timer.C:
		log.Printf("⏳ [EXTERNAL ORDER] No payment after %s, asking the ledger | OrderID=%s", e.paymentWait, open.ID)
	case <-ctx.Done():
		return models.OrderConfirmation{Status: models.ConfirmationPending}, apperrors.Service(apperrors.CodeTimeout, "waiting for payment", ctx.Err())
	}

	order, err := e.settle(ctx, open.ID, open.OfferID, models.OriginExternal)
	if err != nil {
		span.RecordError(err)
	}
	return confirmationOf(order), err
}

// startExternalOrder pays a spend order or submits an earn order and publishes it
// as pending. Failures are published as a failed order.
func (e *Engine) startExternalOrder(ctx context.Context, open models.OpenOrder) error {
	pending := models.Order{
		ID:          open.ID,
		OfferID:     open.OfferID,
		OfferType:   open.OfferType,
		Origin:      models.OriginExternal,
		Status:      models.OrderStatusPending,
		Amount:      open.Amount,
		Title:       open.Title,
		Description: open.Description,
	}

	if open.OfferType.Outgoing() {
		amount := decimal.NewFromInt(open.Amount)
		if balance := e.wallet.Balance(); balance.LessThan(amount) {
			err := apperrors.Blockchain(apperrors.CodeInsufficientFunds,
				fmt.Sprintf("balance %s below order amount %s", balance, amount), nil)
			if cancelErr := e.ledger.CancelOrder(ctx, open.ID); cancelErr != nil {
				log.Printf("⚠️  [EXTERNAL ORDER] Could not cancel order | OrderID=%s | Error=%v", open.ID, cancelErr)
			}
			e.publish(models.NewFailedOrder(open.ID, open.OfferID, models.OriginExternal, err))
			return err
		}
		e.publish(pending)
		e.wallet.SendTransaction(ctx, open.BlockchainData.RecipientAddress, amount, open.ID, open.OfferID)
		return nil
	}

	order, err := e.ledger.SubmitOrder(ctx, open.ID, "")
	if err != nil {
		e.publish(models.NewFailedOrder(open.ID, open.OfferID, models.OriginExternal, err))
		return err
	}
	e.publish(withDefaults(order, open.ID, open.OfferID, models.OriginExternal))
	return nil
}

// ExternalOrderStatus returns the confirmation of the most recent external order for
// offerID. No order at all is an internal inconsistency of the caller.
func (e *Engine) ExternalOrderStatus(ctx context.Context, offerID string) (models.OrderConfirmation, error) {
	ctx, span := e.tracer.Start(ctx, "ExternalOrderStatus", trace.WithAttributes(attribute.String("offer_id", offerID)))
	defer span.End()

	list, err := e.ledger.GetOrderHistory(ctx, models.OrderFilter{OfferID: offerID, Origin: models.OriginExternal}, 1)
	if err != nil {
		span.RecordError(err)
		return models.OrderConfirmation{}, err
	}
	if len(list.Orders) == 0 {
		return models.OrderConfirmation{}, apperrors.Client(apperrors.CodeInternalInconsistency,
			fmt.Sprintf("no external order found for offer %s", offerID), nil)
	}
	return confirmationOf(list.Orders[0]), nil
}

func confirmationOf(order models.Order) models.OrderConfirmation {
	switch order.Status {
	case models.OrderStatusCompleted:
		c := models.OrderConfirmation{Status: models.ConfirmationCompleted}
		if order.Result != nil {
			c.JWT = order.Result.JWT
		}
		return c
	case models.OrderStatusFailed:
		return models.OrderConfirmation{Status: models.ConfirmationFailed}
	case models.OrderStatusPending, models.OrderStatusDelayed:
		return models.OrderConfirmation{Status: models.ConfirmationPending}
	default:
		return models.OrderConfirmation{Status: models.ConfirmationPending}
	}
}
