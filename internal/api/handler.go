package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/account"
	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// OrderService is the part of the orders engine exposed over HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, offerID string) (models.OpenOrder, error)
	SubmitOrder(ctx context.Context, offerID, content, orderID string, origin models.Origin) (models.Order, error)
	PayOrder(ctx context.Context, open models.OpenOrder) error
	CancelOrder(ctx context.Context, orderID string) error
	OrderHistory(ctx context.Context, filter models.OrderFilter, limit int) (models.OrderList, error)
	OpenOrder() (models.OpenOrder, bool)
	PendingOrders() int
	IsFirstSpendOrder(ctx context.Context) bool
	ExecuteExternalOrder(ctx context.Context, jwt string) (models.OrderConfirmation, error)
	ExternalOrderStatus(ctx context.Context, offerID string) (models.OrderConfirmation, error)
	AddOrderObserver(fn func(models.Order)) observable.ObserverID
	RemoveOrderObserver(id observable.ObserverID)
}

// OfferService is the offer catalog.
type OfferService interface {
	Refresh(ctx context.Context) error
	Offers() []models.Offer
	AddNativeOffer(offer models.Offer) bool
	RemoveNativeOffer(offer models.Offer) bool
}

// AccountService is the account provisioning state machine.
type AccountService interface {
	State() account.State
	Err() error
	Retry()
	SwitchAccount(ctx context.Context, index int) error
}

// WalletService reads the active account of the chain gateway.
type WalletService interface {
	PublicAddress() string
	Balance() decimal.Decimal
	RefreshBalance(ctx context.Context) (decimal.Decimal, error)
}

// BackupFlag persists whether the user confirmed a wallet backup.
type BackupFlag interface {
	BackedUp(ctx context.Context) (bool, error)
	SetBackedUp(ctx context.Context, backedUp bool) error
}

type CreateOrderRequest struct {
	OfferID string `json:"offer_id" binding:"required"`
}

type SubmitOrderRequest struct {
	OfferID string        `json:"offer_id" binding:"required"`
	Content string        `json:"content"`
	Origin  models.Origin `json:"origin"`
}

type ExternalOrderRequest struct {
	JWT string `json:"jwt" binding:"required"`
}

type SwitchAccountRequest struct {
	Index *int `json:"index" binding:"required,gte=0"`
}

type BackupRequest struct {
	BackedUp *bool `json:"backed_up" binding:"required"`
}

// Handler contains the HTTP handlers of the marketplace host process.
type Handler struct {
	orders   OrderService
	offers   OfferService
	accounts AccountService
	wallet   WalletService
	backups  BackupFlag
	balance  *BalanceView
}

// NewHandler creates a Handler. The balance view follows the order stream until
// Close is called.
func NewHandler(orders OrderService, offers OfferService, accounts AccountService, wallet WalletService, backups BackupFlag) *Handler {
	return &Handler{
		orders:   orders,
		offers:   offers,
		accounts: accounts,
		wallet:   wallet,
		backups:  backups,
		balance:  NewBalanceView(wallet, orders),
	}
}

// Close stops the balance view.
func (h *Handler) Close() {
	h.balance.Close()
}

// RegisterRoutes mounts the handlers and the metrics endpoint on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(requestMetrics())

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", metricsHandler())

	r.GET("/offers", h.ListOffers)
	r.POST("/offers/refresh", h.RefreshOffers)
	r.POST("/offers/native", h.AddNativeOffer)
	r.DELETE("/offers/native/:id", h.RemoveNativeOffer)

	r.POST("/orders", h.CreateOrder)
	r.GET("/orders", h.OrderHistory)
	r.GET("/orders/open", h.GetOpenOrder)
	r.POST("/orders/external", h.ExecuteExternalOrder)
	r.GET("/orders/external/:offer_id", h.ExternalOrderStatus)
	r.POST("/orders/:id/submit", h.SubmitOrder)
	r.POST("/orders/:id/pay", h.PayOrder)
	r.DELETE("/orders/:id", h.CancelOrder)

	r.GET("/balance", h.GetBalance)

	r.GET("/account", h.GetAccount)
	r.POST("/account/retry", h.RetryAccount)
	r.POST("/account/switch", h.SwitchAccount)
	r.POST("/account/backup", h.SetBackedUp)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"account_state": h.accounts.State().String(),
	})
}

func (h *Handler) ListOffers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"offers": h.offers.Offers()})
}

func (h *Handler) RefreshOffers(c *gin.Context) {
	if err := h.offers.Refresh(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": h.offers.Offers()})
}

func (h *Handler) AddNativeOffer(c *gin.Context) {
	var offer models.Offer
	if err := c.ShouldBindJSON(&offer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if offer.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offer id is required"})
		return
	}
	if !h.offers.AddNativeOffer(offer) {
		c.JSON(http.StatusConflict, gin.H{"error": "offer already registered", "offer_id": offer.ID})
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *Handler) RemoveNativeOffer(c *gin.Context) {
	if !h.offers.RemoveNativeOffer(models.Offer{ID: c.Param("id")}) {
		c.JSON(http.StatusNotFound, gin.H{"error": "offer not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	open, err := h.orders.CreateOrder(c.Request.Context(), req.OfferID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, open)
}

func (h *Handler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Origin == "" {
		req.Origin = models.OriginMarketplace
	}

	order, err := h.orders.SubmitOrder(c.Request.Context(), req.OfferID, req.Content, c.Param("id"), req.Origin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// PayOrder sends the payment of the open order. Only the order currently held in
// the open order slot can be paid.
func (h *Handler) PayOrder(c *gin.Context) {
	open, ok := h.orders.OpenOrder()
	if !ok || open.ID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "order is not the open order"})
		return
	}
	if err := h.orders.PayOrder(c.Request.Context(), open); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": open.ID, "status": models.OrderStatusPending})
}

func (h *Handler) CancelOrder(c *gin.Context) {
	if err := h.orders.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) OrderHistory(c *gin.Context) {
	limit := 25
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	filter := models.OrderFilter{OfferID: c.Query("offer_id"), Origin: models.Origin(c.Query("origin"))}

	list, err := h.orders.OrderHistory(c.Request.Context(), filter, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetOpenOrder(c *gin.Context) {
	open, ok := h.orders.OpenOrder()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open order", "pending_orders": h.orders.PendingOrders()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"open_order": open, "pending_orders": h.orders.PendingOrders()})
}

func (h *Handler) ExecuteExternalOrder(c *gin.Context) {
	var req ExternalOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confirmation, err := h.orders.ExecuteExternalOrder(c.Request.Context(), req.JWT)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmation)
}

func (h *Handler) ExternalOrderStatus(c *gin.Context) {
	confirmation, err := h.orders.ExternalOrderStatus(c.Request.Context(), c.Param("offer_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmation)
}

func (h *Handler) GetBalance(c *gin.Context) {
	c.JSON(http.StatusOK, h.balance.Snapshot())
}

func (h *Handler) GetAccount(c *gin.Context) {
	backedUp, err := h.backups.BackedUp(c.Request.Context())
	if err != nil {
		log.Printf("❌ [GET ACCOUNT] Could not read backup flag | Error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"state":       h.accounts.State().String(),
		"address":     h.wallet.PublicAddress(),
		"first_spend": h.orders.IsFirstSpendOrder(c.Request.Context()),
		"backed_up":   backedUp,
	}
	if err := h.accounts.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RetryAccount(c *gin.Context) {
	if h.accounts.State() != account.StateError {
		c.JSON(http.StatusConflict, gin.H{"error": "account is not in error state", "state": h.accounts.State().String()})
		return
	}
	h.accounts.Retry()
	c.JSON(http.StatusAccepted, gin.H{"state": h.accounts.State().String()})
}

func (h *Handler) SwitchAccount(c *gin.Context) {
	var req SwitchAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accounts.SwitchAccount(c.Request.Context(), *req.Index); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": h.accounts.State().String(), "address": h.wallet.PublicAddress()})
}

func (h *Handler) SetBackedUp(c *gin.Context) {
	var req BackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.backups.SetBackedUp(c.Request.Context(), *req.BackedUp); err != nil {
		log.Printf("❌ [BACKUP] Could not persist backup flag | Error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Printf("✅ [BACKUP] BackedUp=%t", *req.BackedUp)
	c.JSON(http.StatusOK, gin.H{"backed_up": *req.BackedUp})
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := 0
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
		status = statusOf(appErr)
	}
	log.Printf("❌ [API] %s %s failed | Status=%d | Error=%v", c.Request.Method, c.FullPath(), status, err)
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func statusOf(err *apperrors.Error) int {
	switch err.Kind {
	case apperrors.KindClient:
		if err.Code == apperrors.CodeSDKNotStarted {
			return http.StatusServiceUnavailable
		}
		if err.Code == apperrors.CodeInternalInconsistency {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case apperrors.KindService:
		switch err.Code {
		case apperrors.CodeOrderNotFound:
			return http.StatusNotFound
		case apperrors.CodeOrderConflict:
			return http.StatusConflict
		case apperrors.CodeTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	case apperrors.KindBlockchain:
		if err.Code == apperrors.CodeInsufficientFunds {
			return http.StatusPaymentRequired
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
