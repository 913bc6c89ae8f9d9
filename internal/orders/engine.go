package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
	"github.com/matheusmosca/offers-marketplace/internal/kvstore"
	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// DefaultPaymentWaitTimeout bounds how long an external order waits for its chain
// payment before asking the ledger directly.
const DefaultPaymentWaitTimeout = 30 * time.Second

// DefaultTerminalRetention is how long a settled order keeps suppressing late
// transitions and payments for it.
const DefaultTerminalRetention = 10 * time.Minute

// LedgerService is the remote order bookkeeping service.
type LedgerService interface {
	CreateOrder(ctx context.Context, offerID string) (models.OpenOrder, error)
	CreateExternalOrder(ctx context.Context, jwt string) (models.OpenOrder, error)
	SubmitOrder(ctx context.Context, orderID, content string) (models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetOrderHistory(ctx context.Context, filter models.OrderFilter, limit int) (models.OrderList, error)
}

// Wallet is the part of blockchain.Gateway the engine uses.
type Wallet interface {
	Balance() decimal.Decimal
	SendTransaction(ctx context.Context, recipient string, amount decimal.Decimal, orderID, offerID string)
	AddPaymentObserver(fn func(blockchain.Payment)) observable.ObserverID
	RemovePaymentObserver(id observable.ObserverID)
}

type Option func(*Engine)

func WithPaymentWaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.paymentWait = d
	}
}

func WithTerminalRetention(d time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
	}
}

// WithSettings lets the engine clear the first-spend flag after a paid order completes.
func WithSettings(settings *kvstore.Settings) Option {
	return func(e *Engine) {
		e.settings = settings
	}
}

func WithObservableOptions(opts ...observable.Option) Option {
	return func(e *Engine) {
		e.observableOpts = opts
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) {
		e.meter = meter
	}
}

// trackedOrder is a submitted order waiting for its completion.
type trackedOrder struct {
	offerID     string
	origin      models.Origin
	paymentSeen bool
	// payments is set for external orders, whose flow waits for the payment itself.
	payments chan blockchain.Payment
}

type settledOrder struct {
	id        string
	settledAt time.Time
}

// Engine coordinates orders between the ledger service and the chain.
//
// A submitted order completes through one of two paths: a matching chain payment
// (the engine then polls the ledger for the authoritative record) or the
// synchronous external order flow. Both publish on the same order stream, and once
// an order is completed or failed no further status is published for it.
type Engine struct {
	ledger         LedgerService
	wallet         Wallet
	poller         *Poller
	settings       *kvstore.Settings
	paymentWait    time.Duration
	retention      time.Duration
	tracer         trace.Tracer
	meter          metric.Meter
	observableOpts []observable.Option

	publishedCounter metric.Int64Counter
	pendingGauge     metric.Int64UpDownCounter

	orders    *observable.Value[models.Order]
	openOrder *observable.Value[*models.OpenOrder]
	openMu    sync.Mutex

	mu              sync.Mutex
	tracked         map[string]*trackedOrder
	terminal        map[string]models.OrderStatus
	settled         []settledOrder
	pendingCount    int
	paymentRefs     int
	paymentObserver observable.ObserverID

	// publishMu keeps the terminal check and the notification of one status atomic.
	publishMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(ledger LedgerService, wallet Wallet, poller *Poller, opts ...Option) *Engine {
	e := &Engine{
		ledger:      ledger,
		wallet:      wallet,
		poller:      poller,
		paymentWait: DefaultPaymentWaitTimeout,
		retention:   DefaultTerminalRetention,
		tracer:      otel.Tracer("orders-engine"),
		meter:       otel.Meter("orders-engine"),
		tracked:     make(map[string]*trackedOrder),
		terminal:    make(map[string]models.OrderStatus),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.orders = observable.NewStream[models.Order](e.observableOpts...)
	e.openOrder = observable.NewValue[*models.OpenOrder](e.observableOpts...)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	var err error
	e.publishedCounter, err = e.meter.Int64Counter("marketplace.orders.published",
		metric.WithDescription("Order status transitions published"))
	if err != nil {
		log.Printf("⚠️  [ORDERS] Could not create published counter: %v", err)
		e.publishedCounter = noop.Int64Counter{}
	}
	e.pendingGauge, err = e.meter.Int64UpDownCounter("marketplace.orders.pending",
		metric.WithDescription("Submitted orders waiting for completion"))
	if err != nil {
		log.Printf("⚠️  [ORDERS] Could not create pending gauge: %v", err)
		e.pendingGauge = noop.Int64UpDownCounter{}
	}
	return e
}

// Close stops background polling and releases the payment subscription.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paymentRefs > 0 {
		e.wallet.RemovePaymentObserver(e.paymentObserver)
		e.paymentRefs = 0
	}
}

// CreateOrder opens an order for offerID and caches it as the open order. When the
// ledger answers that an order for this request already exists, the existing order
// is polled in the background and returned instead of an error.
func (e *Engine) CreateOrder(ctx context.Context, offerID string) (models.OpenOrder, error) {
	ctx, span := e.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(attribute.String("offer_id", offerID)))
	defer span.End()

	log.Printf("➡️ [CREATE ORDER] OfferID=%s", offerID)
	open, err := e.ledger.CreateOrder(ctx, offerID)
	if existing, ok := apperrors.ConflictingOrderID(err); ok {
		log.Printf("ℹ️ [CREATE ORDER] Order already exists, polling it | OfferID=%s | OrderID=%s", offerID, existing)
		span.AddEvent("order already exists", trace.WithAttributes(attribute.String("order_id", existing)))
		e.run(func(ctx context.Context) {
			e.settle(ctx, existing, offerID, models.OriginMarketplace)
		})
		return models.OpenOrder{ID: existing, OfferID: offerID}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		log.Printf("❌ [CREATE ORDER] OfferID=%s | Error=%v", offerID, err)
		return models.OpenOrder{}, err
	}

	e.openMu.Lock()
	e.openOrder.Set(&open)
	e.openMu.Unlock()

	span.SetAttributes(attribute.String("order_id", open.ID))
	log.Printf("✅ [CREATE ORDER] OfferID=%s | OrderID=%s | Amount=%d", offerID, open.ID, open.Amount)
	return open, nil
}

// SubmitOrder submits content for an open order and publishes it as pending. The
// payment observer is registered before the request so a fast chain confirmation
// is never missed. A failed submit publishes a failed order and clears the open order.
func (e *Engine) SubmitOrder(ctx context.Context, offerID, content, orderID string, origin models.Origin) (models.Order, error) {
	ctx, span := e.tracer.Start(ctx, "SubmitOrder", trace.WithAttributes(
		attribute.String("offer_id", offerID),
		attribute.String("order_id", orderID),
	))
	defer span.End()

	log.Printf("➡️ [SUBMIT ORDER] OrderID=%s | OfferID=%s | Origin=%s", orderID, offerID, origin)
	e.track(orderID, offerID, origin, false)

	order, err := e.ledger.SubmitOrder(ctx, orderID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit order failed")
		log.Printf("❌ [SUBMIT ORDER] OrderID=%s | Error=%v", orderID, err)
		e.publish(models.NewFailedOrder(orderID, offerID, origin, err))
		e.clearOpenOrder(orderID)
		e.release(orderID)
		return models.Order{}, err
	}

	order = withDefaults(order, orderID, offerID, origin)
	e.publish(order)
	if order.Status.IsTerminal() {
		e.release(orderID)
	}
	return order, nil
}

// PayOrder sends the chain payment of an outgoing open order. It must follow
// SubmitOrder so the payment outcome is reconciled; a transfer failure surfaces as
// a failed order on the order stream.
func (e *Engine) PayOrder(ctx context.Context, open models.OpenOrder) error {
	ctx, span := e.tracer.Start(ctx, "PayOrder", trace.WithAttributes(attribute.String("order_id", open.ID)))
	defer span.End()

	if !open.OfferType.Outgoing() {
		return apperrors.Client(apperrors.CodeInternalInconsistency,
			fmt.Sprintf("order %s of type %s is not paid by the account", open.ID, open.OfferType), nil)
	}
	if open.BlockchainData.RecipientAddress == "" {
		return apperrors.Client(apperrors.CodeInternalInconsistency,
			fmt.Sprintf("order %s has no recipient address", open.ID), nil)
	}

	amount := decimal.NewFromInt(open.Amount)
	if balance := e.wallet.Balance(); balance.LessThan(amount) {
		err := apperrors.Blockchain(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("balance %s below order amount %s", balance, amount), nil)
		span.RecordError(err)
		e.publish(models.NewFailedOrder(open.ID, open.OfferID, models.OriginMarketplace, err))
		e.release(open.ID)
		return err
	}

	e.wallet.SendTransaction(ctx, open.BlockchainData.RecipientAddress, amount, open.ID, open.OfferID)
	return nil
}

// CancelOrder releases an open order on the ledger and clears the open order slot.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := e.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	if err := e.ledger.CancelOrder(ctx, orderID); err != nil {
		span.RecordError(err)
		log.Printf("❌ [CANCEL ORDER] OrderID=%s | Error=%v", orderID, err)
		return err
	}
	e.clearOpenOrder(orderID)
	log.Printf("✅ [CANCEL ORDER] OrderID=%s", orderID)
	return nil
}

func (e *Engine) OrderHistory(ctx context.Context, filter models.OrderFilter, limit int) (models.OrderList, error) {
	return e.ledger.GetOrderHistory(ctx, filter, limit)
}

// OpenOrder returns the cached open order, if any.
func (e *Engine) OpenOrder() (models.OpenOrder, bool) {
	open, ok := e.openOrder.Get()
	if !ok || open == nil {
		return models.OpenOrder{}, false
	}
	return *open, true
}

// AddOpenOrderObserver registers fn for open order changes; nil means no open order.
func (e *Engine) AddOpenOrderObserver(fn func(*models.OpenOrder)) observable.ObserverID {
	return e.openOrder.AddObserver(fn)
}

func (e *Engine) RemoveOpenOrderObserver(id observable.ObserverID) {
	e.openOrder.RemoveObserver(id)
}

// AddOrderObserver registers fn for order status transitions. Observers must not
// call back into the engine synchronously from fn.
func (e *Engine) AddOrderObserver(fn func(models.Order)) observable.ObserverID {
	return e.orders.AddObserver(fn)
}

func (e *Engine) RemoveOrderObserver(id observable.ObserverID) {
	e.orders.RemoveObserver(id)
}

// PendingOrders returns how many submitted orders are still waiting for completion.
func (e *Engine) PendingOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount
}

// IsFirstSpendOrder reports whether no paid order completed yet.
func (e *Engine) IsFirstSpendOrder(ctx context.Context) bool {
	if e.settings == nil {
		return true
	}
	first, err := e.settings.FirstSpendOrder(ctx)
	if err != nil {
		log.Printf("⚠️  [ORDERS] Could not read first spend flag: %v", err)
		return true
	}
	return first
}

// track starts waiting for orderID. It takes one pending count and one payment
// observer reference, both given back by release.
func (e *Engine) track(orderID, offerID string, origin models.Origin, external bool) *trackedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.tracked[orderID]; ok {
		return t
	}
	t := &trackedOrder{offerID: offerID, origin: origin}
	if external {
		t.payments = make(chan blockchain.Payment, 1)
	}
	e.tracked[orderID] = t
	e.pendingCount++
	e.pendingGauge.Add(context.Background(), 1)

	e.paymentRefs++
	if e.paymentRefs == 1 {
		e.paymentObserver = e.wallet.AddPaymentObserver(e.onPayment)
	}
	return t
}

// release stops waiting for orderID. Calling it again for the same order is a no-op.
func (e *Engine) release(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tracked[orderID]; !ok {
		return
	}
	delete(e.tracked, orderID)

	if e.pendingCount > 0 {
		e.pendingCount--
		e.pendingGauge.Add(context.Background(), -1)
	}
	if e.paymentRefs > 0 {
		e.paymentRefs--
		if e.paymentRefs == 0 {
			e.wallet.RemovePaymentObserver(e.paymentObserver)
		}
	}
}

func (e *Engine) onPayment(p blockchain.Payment) {
	if p.OrderID == "" {
		return
	}

	e.mu.Lock()
	if _, done := e.terminal[p.OrderID]; done {
		e.mu.Unlock()
		log.Printf("ℹ️ [PAYMENT] Ignoring payment for settled order | OrderID=%s | TxID=%s", p.OrderID, p.TransactionID)
		return
	}
	t, ok := e.tracked[p.OrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if t.payments != nil {
		select {
		case t.payments <- p:
		default:
		}
		e.mu.Unlock()
		return
	}
	if t.paymentSeen {
		e.mu.Unlock()
		return
	}
	t.paymentSeen = true
	offerID, origin := t.offerID, t.origin
	e.mu.Unlock()

	if !p.Succeeded {
		log.Printf("❌ [PAYMENT] Failed | OrderID=%s | Error=%v", p.OrderID, p.Cause)
		e.publish(models.NewFailedOrder(p.OrderID, offerID, origin, paymentCause(p)))
		e.release(p.OrderID)
		return
	}

	log.Printf("✅ [PAYMENT] Confirmed on chain | OrderID=%s | TxID=%s | Amount=%s", p.OrderID, p.TransactionID, p.Amount)
	e.run(func(ctx context.Context) {
		defer e.release(p.OrderID)
		e.settle(ctx, p.OrderID, offerID, origin)
	})
}

// pruneSettled forgets terminal orders settled longer than the retention ago.
// Entries are appended in settle order, so the expired ones form a prefix.
// Must be called with e.mu held.
func (e *Engine) pruneSettled(now time.Time) {
	n := 0
	for n < len(e.settled) && now.Sub(e.settled[n].settledAt) > e.retention {
		delete(e.terminal, e.settled[n].id)
		n++
	}
	if n > 0 {
		e.settled = append(e.settled[:0:0], e.settled[n:]...)
	}
}

// settle polls orderID and publishes the outcome.
func (e *Engine) settle(ctx context.Context, orderID, offerID string, origin models.Origin) (models.Order, error) {
	ctx, span := e.tracer.Start(ctx, "SettleOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	order, err := e.poller.Poll(ctx, orderID)
	if e.ctx.Err() != nil {
		return order, err
	}
	outcome := pollOutcome(order, err, orderID, offerID, origin)
	if err != nil {
		span.RecordError(err)
	}
	e.publish(outcome)
	return outcome, err
}

// publish delivers order to the observers unless the order is already terminal.
func (e *Engine) publish(order models.Order) bool {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	if status, done := e.terminal[order.ID]; done {
		e.mu.Unlock()
		log.Printf("ℹ️ [PUBLISH ORDER] Already %s, dropping %s | OrderID=%s", status, order.Status, order.ID)
		return false
	}
	if order.Status.IsTerminal() {
		e.pruneSettled(time.Now())
		e.terminal[order.ID] = order.Status
		e.settled = append(e.settled, settledOrder{id: order.ID, settledAt: time.Now()})
	}
	e.mu.Unlock()

	if order.Status != models.OrderStatusPending {
		e.clearOpenOrder(order.ID)
	}

	e.publishedCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("status", string(order.Status)),
		attribute.String("origin", string(order.Origin)),
	))
	log.Printf("✅ [PUBLISH ORDER] OrderID=%s | OfferID=%s | Status=%s", order.ID, order.OfferID, order.Status)
	e.orders.Set(order)

	if order.Status == models.OrderStatusCompleted && order.OfferType.Outgoing() && e.settings != nil {
		if err := e.settings.SetFirstSpendOrder(e.ctx, false); err != nil {
			log.Printf("⚠️  [ORDERS] Could not persist first spend flag: %v", err)
		}
	}
	return true
}

func (e *Engine) clearOpenOrder(orderID string) {
	e.openMu.Lock()
	defer e.openMu.Unlock()
	if open, ok := e.openOrder.Get(); ok && open != nil && open.ID == orderID {
		e.openOrder.Set(nil)
	}
}

func (e *Engine) run(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// pollOutcome maps a poll result to the status to publish. A poll that ran out of
// attempts is published as delayed: the ledger has not settled the order yet.
func pollOutcome(order models.Order, err error, orderID, offerID string, origin models.Origin) models.Order {
	switch {
	case err == nil:
		return withDefaults(order, orderID, offerID, origin)
	case errors.Is(err, apperrors.ErrTimeout):
		order = withDefaults(order, orderID, offerID, origin)
		order.Status = models.OrderStatusDelayed
		return order
	default:
		return models.NewFailedOrder(orderID, offerID, origin, err)
	}
}

func withDefaults(order models.Order, orderID, offerID string, origin models.Origin) models.Order {
	if order.ID == "" {
		order.ID = orderID
	}
	if order.OfferID == "" {
		order.OfferID = offerID
	}
	if order.Origin == "" {
		order.Origin = origin
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	return order
}

func paymentCause(p blockchain.Payment) error {
	if p.Cause != nil {
		return p.Cause
	}
	return apperrors.ErrTransactionFailed
}
