package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/models"
)

func TestPoller_ReturnsFirstTerminalOrder(t *testing.T) {
	// Arrange
	ledger := new(MockLedger)
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{ID: "o1", Status: models.OrderStatusPending}, nil).Once()
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{}, apperrors.ErrNetwork).Once()
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{ID: "o1", Status: models.OrderStatusFailed}, nil).Once()
	p := NewPoller(ledger, 5, time.Millisecond)

	// Act
	order, err := p.Poll(context.Background(), "o1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	ledger.AssertNumberOfCalls(t, "GetOrder", 3)
}

func TestPoller_ExhaustionIsReported(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{ID: "o1", Status: models.OrderStatusPending}, nil)
	p := NewPoller(ledger, 4, time.Millisecond)

	order, err := p.Poll(context.Background(), "o1")

	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, apperrors.KindService, apperrors.KindOf(err))
	assert.Equal(t, "o1", order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	ledger.AssertNumberOfCalls(t, "GetOrder", 4)
}

func TestPoller_ClientErrorStopsImmediately(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{}, apperrors.Client(apperrors.CodeSDKNotStarted, "not started", nil))
	p := NewPoller(ledger, 4, time.Millisecond)

	_, err := p.Poll(context.Background(), "o1")

	assert.Equal(t, apperrors.KindClient, apperrors.KindOf(err))
	ledger.AssertNumberOfCalls(t, "GetOrder", 1)
}

func TestPoller_StopsWhenContextIsDone(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetOrder", mock.Anything, "o1").Return(models.Order{ID: "o1", Status: models.OrderStatusPending}, nil)
	p := NewPoller(ledger, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Poll(ctx, "o1")

	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	ledger.AssertNumberOfCalls(t, "GetOrder", 1)
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(new(MockLedger), 0, 0)

	assert.Equal(t, DefaultPollAttempts, p.maxAttempts)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
