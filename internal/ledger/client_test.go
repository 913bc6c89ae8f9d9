package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

// fakeLedger is an in-memory ledger service driven through gin.
type fakeLedger struct {
	signIns      atomic.Int32
	rejectNext   atomic.Bool
	lastAuth     atomic.Value
	lastQuery    atomic.Value
	lastWallet   atomic.Value
	createStatus int
}

func newFakeLedger(t *testing.T) (*fakeLedger, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeLedger{createStatus: http.StatusCreated}
	r := gin.New()

	r.POST("/users", func(c *gin.Context) {
		n := f.signIns.Add(1)
		c.JSON(http.StatusOK, gin.H{
			"token":           "token-" + string(rune('0'+n)),
			"expiration_date": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})
	r.GET("/users/exists", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"restorable": c.Query("wallet_address") == "GKNOWN"})
	})
	r.PATCH("/users/me", func(c *gin.Context) {
		var body walletAddressRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 4000, "error": "bad_request", "message": err.Error()})
			return
		}
		f.lastWallet.Store(body.WalletAddress)
		c.Status(http.StatusNoContent)
	})

	authorized := r.Group("/", func(c *gin.Context) {
		f.lastAuth.Store(c.GetHeader("Authorization"))
		if f.rejectNext.CompareAndSwap(true, false) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 4011, "error": "unauthorized", "message": "token expired"})
			return
		}
		c.Next()
	})
	authorized.POST("/offers/:offer_id/orders", func(c *gin.Context) {
		switch f.createStatus {
		case http.StatusConflict:
			c.Header("Location", "https://ledger.test/v1/orders/o2")
			c.JSON(http.StatusConflict, gin.H{"code": CodeOrderAlreadyExists, "error": "conflict", "message": "order already exists"})
		case http.StatusInternalServerError:
			c.JSON(http.StatusInternalServerError, gin.H{"code": 5001, "error": "internal", "message": "boom"})
		default:
			c.JSON(http.StatusCreated, models.OpenOrder{
				ID:             "o1",
				OfferID:        c.Param("offer_id"),
				OfferType:      models.OfferTypeSpend,
				Amount:         20,
				BlockchainData: models.BlockchainData{RecipientAddress: "GRECIPIENT"},
			})
		}
	})
	authorized.POST("/offers/external/orders", func(c *gin.Context) {
		var body externalOrderRequest
		if err := c.ShouldBindJSON(&body); err != nil || body.JWT == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 4002, "error": "bad_jwt", "message": "missing jwt"})
			return
		}
		c.JSON(http.StatusCreated, models.OpenOrder{ID: "ext1", OfferID: "native1", OfferType: models.OfferTypeEarn, Amount: 5})
	})
	authorized.POST("/orders/:order_id", func(c *gin.Context) {
		var body submitOrderRequest
		_ = c.ShouldBindJSON(&body)
		c.JSON(http.StatusOK, models.Order{ID: c.Param("order_id"), Status: models.OrderStatusPending, Title: body.Content})
	})
	authorized.GET("/orders/:order_id", func(c *gin.Context) {
		if c.Param("order_id") == "missing" {
			c.JSON(http.StatusNotFound, gin.H{"code": 4041, "error": "not_found", "message": "order not found"})
			return
		}
		c.JSON(http.StatusOK, models.Order{ID: c.Param("order_id"), Status: models.OrderStatusCompleted})
	})
	authorized.DELETE("/orders/:order_id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	authorized.GET("/orders", func(c *gin.Context) {
		f.lastQuery.Store(c.Request.URL.RawQuery)
		c.JSON(http.StatusOK, models.OrderList{Orders: []models.Order{{ID: "h1", OfferID: c.Query("offer_id")}}})
	})
	authorized.GET("/offers", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.OfferList{Offers: []models.Offer{{ID: "offer1"}, {ID: "offer2"}}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T) (*fakeLedger, *Client, *Session) {
	t.Helper()
	f, srv := newFakeLedger(t)
	session := NewSession(srv.URL, Credentials{AppID: "appX", UserID: "u1", DeviceID: "d1"}, func() string { return "GME" })
	return f, NewClient(srv.URL, session), session
}

func TestClient_CreateOrder(t *testing.T) {
	// Arrange
	f, client, _ := newTestClient(t)

	// Act
	open, err := client.CreateOrder(context.Background(), "offer1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "o1", open.ID)
	assert.Equal(t, "offer1", open.OfferID)
	assert.Equal(t, "GRECIPIENT", open.BlockchainData.RecipientAddress)
	assert.Equal(t, "Bearer token-1", f.lastAuth.Load())
}

func TestClient_TokenIsCachedBetweenCalls(t *testing.T) {
	f, client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetOrder(ctx, "o1")
	require.NoError(t, err)
	_, err = client.GetOffers(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.signIns.Load())
}

func TestClient_ConflictCarriesExistingOrderID(t *testing.T) {
	f, client, _ := newTestClient(t)
	f.createStatus = http.StatusConflict

	_, err := client.CreateOrder(context.Background(), "offer1")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOrderConflict)
	id, ok := apperrors.ConflictingOrderID(err)
	assert.True(t, ok)
	assert.Equal(t, "o2", id)
}

func TestClient_ServerErrorKeepsBody(t *testing.T) {
	f, client, _ := newTestClient(t)
	f.createStatus = http.StatusInternalServerError

	_, err := client.CreateOrder(context.Background(), "offer1")

	assert.Equal(t, apperrors.KindService, apperrors.KindOf(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPCode)
	assert.Equal(t, 5001, apiErr.Code)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClient_NotFound(t *testing.T) {
	_, client, _ := newTestClient(t)

	_, err := client.GetOrder(context.Background(), "missing")

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeOrderNotFound, appErr.Code)
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	// Arrange
	f, client, _ := newTestClient(t)
	ctx := context.Background()
	_, err := client.GetOrder(ctx, "o1")
	require.NoError(t, err)
	f.rejectNext.Store(true)

	// Act
	_, err = client.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = client.GetOrder(ctx, "o1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.signIns.Load())
	assert.Equal(t, "Bearer token-2", f.lastAuth.Load())
}

func TestClient_NetworkFailure(t *testing.T) {
	_, srv := newFakeLedger(t)
	session := NewSession(srv.URL, Credentials{AppID: "appX", UserID: "u1"}, nil)
	srv.Close()

	_, err := NewClient(srv.URL, session).GetOrder(context.Background(), "o1")

	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestClient_OrderHistoryQuery(t *testing.T) {
	f, client, _ := newTestClient(t)

	list, err := client.GetOrderHistory(context.Background(), models.OrderFilter{OfferID: "native1", Origin: models.OriginExternal}, 1)

	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "native1", list.Orders[0].OfferID)
	assert.Equal(t, "limit=1&offer_id=native1&origin=external", f.lastQuery.Load())
}

func TestClient_SubmitCancelAndExternal(t *testing.T) {
	_, client, _ := newTestClient(t)
	ctx := context.Background()

	order, err := client.SubmitOrder(ctx, "o1", "answers")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "answers", order.Title)

	require.NoError(t, client.CancelOrder(ctx, "o1"))

	open, err := client.CreateExternalOrder(ctx, "signed.jwt.value")
	require.NoError(t, err)
	assert.Equal(t, "ext1", open.ID)

	_, err = client.CreateExternalOrder(ctx, "")
	assert.Equal(t, apperrors.KindService, apperrors.KindOf(err))
}

func TestSession_RestorableAndWalletUpdate(t *testing.T) {
	f, _, session := newTestClient(t)
	ctx := context.Background()

	ok, err := session.IsRestorable(ctx, "GKNOWN")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = session.IsRestorable(ctx, "GOTHER")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, session.UpdateWalletAddress(ctx, "GKNOWN"))
	assert.Equal(t, "GKNOWN", f.lastWallet.Load())
	assert.Equal(t, int32(1), f.signIns.Load())
}

func TestOrderIDFromLocation(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://ledger.test/v1/orders/o2", "o2"},
		{"/orders/o3/", "o3"},
		{"/orders/o4?x=1", "o4"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, orderIDFromLocation(tt.location))
		})
	}
}
