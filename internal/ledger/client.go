package ledger

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

const defaultTimeout = 10 * time.Second

type submitOrderRequest struct {
	Content string `json:"content"`
}

type externalOrderRequest struct {
	JWT string `json:"jwt"`
}

// TokenSource supplies and invalidates the bearer token of the current user.
type TokenSource interface {
	AuthToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the remote ledger service. Every call is authorized through the
// TokenSource; a 401 invalidates the token so the next call signs in again.
type Client struct {
	http   *resty.Client
	tokens TokenSource
}

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			req.SetHeader("X-Request-ID", uuid.NewString())
			return nil
		})
}

// NewClient creates a ledger Client for baseURL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		http:   newRestyClient(baseURL),
		tokens: tokens,
	}
}

// CreateOrder opens an order for offerID.
func (c *Client) CreateOrder(ctx context.Context, offerID string) (models.OpenOrder, error) {
	var out models.OpenOrder
	err := c.do(ctx, "create order", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetPathParam("offer_id", offerID).
			SetResult(&out).
			Post("/offers/{offer_id}/orders")
	})
	return out, err
}

// CreateExternalOrder opens an order described by a JWT signed by the host
// application's backend.
func (c *Client) CreateExternalOrder(ctx context.Context, jwt string) (models.OpenOrder, error) {
	var out models.OpenOrder
	err := c.do(ctx, "create external order", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(externalOrderRequest{JWT: jwt}).
			SetResult(&out).
			Post("/offers/external/orders")
	})
	return out, err
}

// SubmitOrder submits the content of an open order, e.g. the answers of a poll.
func (c *Client) SubmitOrder(ctx context.Context, orderID, content string) (models.Order, error) {
	var out models.Order
	err := c.do(ctx, "submit order", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetPathParam("order_id", orderID).
			SetBody(submitOrderRequest{Content: content}).
			SetResult(&out).
			Post("/orders/{order_id}")
	})
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, "cancel order", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetPathParam("order_id", orderID).
			Delete("/orders/{order_id}")
	})
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	var out models.Order
	err := c.do(ctx, "get order", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetPathParam("order_id", orderID).
			SetResult(&out).
			Get("/orders/{order_id}")
	})
	return out, err
}

// GetOrderHistory lists orders matching filter, newest first. A non-positive
// limit leaves the page size to the server.
func (c *Client) GetOrderHistory(ctx context.Context, filter models.OrderFilter, limit int) (models.OrderList, error) {
	var out models.OrderList
	err := c.do(ctx, "get order history", func(req *resty.Request) (*resty.Response, error) {
		if filter.OfferID != "" {
			req.SetQueryParam("offer_id", filter.OfferID)
		}
		if filter.Origin != "" {
			req.SetQueryParam("origin", string(filter.Origin))
		}
		if limit > 0 {
			req.SetQueryParam("limit", strconv.Itoa(limit))
		}
		return req.SetResult(&out).Get("/orders")
	})
	return out, err
}

func (c *Client) GetOffers(ctx context.Context) (models.OfferList, error) {
	var out models.OfferList
	err := c.do(ctx, "get offers", func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&out).Get("/offers")
	})
	return out, err
}

func (c *Client) do(ctx context.Context, operation string, call func(*resty.Request) (*resty.Response, error)) error {
	token, err := c.tokens.AuthToken(ctx)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&APIError{})
	resp, err := call(req)
	if err := convertError(resp, err, operation); err != nil {
		if errors.Is(err, apperrors.ErrUnauthorized) {
			c.tokens.Invalidate()
		}
		log.Printf("❌ [LEDGER] %s failed | Error=%v", operation, err)
		return err
	}
	return nil
}
