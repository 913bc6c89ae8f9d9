package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
	"github.com/matheusmosca/offers-marketplace/internal/blockchain/simnet"
	"github.com/matheusmosca/offers-marketplace/internal/kvstore"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

// TestEngine_SpendOrderOverSimulatedChain runs a spend order through the real
// gateway: the memo written by the transfer is what ties the chain payment back to
// the order.
func TestEngine_SpendOrderOverSimulatedChain(t *testing.T) {
	// Arrange
	ctx := context.Background()
	network := simnet.NewNetwork(simnet.Options{})
	settings := kvstore.NewSettings(kvstore.NewMemory(), "")
	gateway := blockchain.NewGateway("appX", network.NewKeystore(), settings)
	require.NoError(t, gateway.Init(ctx))

	network.CreateAccount(gateway.PublicAddress(), decimal.NewFromInt(100))
	network.CreateAccount("GSHOP", decimal.Zero)
	require.NoError(t, network.Activate("GSHOP"))
	require.NoError(t, gateway.EnsureTrustline(ctx))
	_, err := gateway.RefreshBalance(ctx)
	require.NoError(t, err)

	ledger := new(MockLedger)
	ledger.On("CreateOrder", mock.Anything, "offer1").Return(models.OpenOrder{
		ID: "o1", OfferID: "offer1", OfferType: models.OfferTypeSpend, Amount: 20,
		BlockchainData: models.BlockchainData{RecipientAddress: "GSHOP"},
	}, nil)
	ledger.On("SubmitOrder", mock.Anything, "o1", "").
		Return(models.Order{ID: "o1", OfferID: "offer1", Status: models.OrderStatusPending}, nil)
	ledger.On("GetOrder", mock.Anything, "o1").
		Return(models.Order{ID: "o1", OfferID: "offer1", OfferType: models.OfferTypeSpend, Status: models.OrderStatusCompleted}, nil)

	e := NewEngine(ledger, gateway, NewPoller(ledger, 3, 0))
	t.Cleanup(e.Close)
	rec := recordStatuses(e)

	// Act
	open, err := e.CreateOrder(ctx, "offer1")
	require.NoError(t, err)
	_, err = e.SubmitOrder(ctx, open.OfferID, "", open.ID, models.OriginMarketplace)
	require.NoError(t, err)
	require.NoError(t, e.PayOrder(ctx, open))

	// Assert
	require.Eventually(t, func() bool { return len(rec.of("o1")) == 2 }, waitFor, tick)
	assert.Equal(t, statuses(models.OrderStatusPending, models.OrderStatusCompleted), rec.of("o1"))
	require.Eventually(t, func() bool { return e.PendingOrders() == 0 }, waitFor, tick)

	balance, err := gateway.RefreshBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(80)), "balance is %s", balance)
}
