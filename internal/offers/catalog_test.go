package offers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetOffers(ctx context.Context) (models.OfferList, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.OfferList), args.Error(1)
}

type fakeOrderStream struct {
	*observable.Value[models.Order]
}

func newFakeOrderStream() *fakeOrderStream {
	return &fakeOrderStream{Value: observable.NewStream[models.Order]()}
}

func (s *fakeOrderStream) AddOrderObserver(fn func(models.Order)) observable.ObserverID {
	return s.AddObserver(fn)
}

func (s *fakeOrderStream) RemoveOrderObserver(id observable.ObserverID) {
	s.RemoveObserver(id)
}

func ids(offers []models.Offer) []string {
	out := make([]string, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.ID)
	}
	return out
}

func TestCatalog_NativeOffersArePrepended(t *testing.T) {
	// Arrange
	source := new(MockSource)
	source.On("GetOffers", mock.Anything).Return(models.OfferList{Offers: []models.Offer{{ID: "r1"}, {ID: "r2"}}}, nil)
	c := NewCatalog(source, newFakeOrderStream())

	// Act
	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.AddNativeOffer(models.Offer{ID: "n1"}))
	assert.True(t, c.AddNativeOffer(models.Offer{ID: "n2"}))
	assert.False(t, c.AddNativeOffer(models.Offer{ID: "n1", Title: "duplicate"}))

	// Assert
	assert.Equal(t, []string{"n2", "n1", "r1", "r2"}, ids(c.Offers()))

	assert.True(t, c.RemoveNativeOffer(models.Offer{ID: "n2"}))
	assert.False(t, c.RemoveNativeOffer(models.Offer{ID: "n2"}))
	assert.Equal(t, []string{"n1", "r1", "r2"}, ids(c.Offers()))
}

func TestCatalog_PendingOrderHidesItsOffer(t *testing.T) {
	source := new(MockSource)
	source.On("GetOffers", mock.Anything).Return(models.OfferList{Offers: []models.Offer{{ID: "r1"}, {ID: "r2"}}}, nil)
	stream := newFakeOrderStream()
	c := NewCatalog(source, stream)
	require.NoError(t, c.Refresh(context.Background()))

	stream.Set(models.Order{ID: "o1", OfferID: "r1", Status: models.OrderStatusCompleted})
	assert.Equal(t, []string{"r1", "r2"}, ids(c.Offers()))

	stream.Set(models.Order{ID: "o1", OfferID: "r1", Status: models.OrderStatusPending})
	assert.Equal(t, []string{"r2"}, ids(c.Offers()))
}

func TestCatalog_FailedRefreshKeepsCachedList(t *testing.T) {
	source := new(MockSource)
	source.On("GetOffers", mock.Anything).Return(models.OfferList{Offers: []models.Offer{{ID: "r1"}, {ID: "r2"}}}, nil).Once()
	source.On("GetOffers", mock.Anything).Return(models.OfferList{}, errors.New("offline"))
	stream := newFakeOrderStream()
	c := NewCatalog(source, stream)
	require.NoError(t, c.Refresh(context.Background()))
	stream.Set(models.Order{ID: "o1", OfferID: "r1", Status: models.OrderStatusPending})

	err := c.Refresh(context.Background())

	assert.Error(t, err)
	assert.Equal(t, []string{"r2"}, ids(c.Offers()), "a hidden offer comes back only with a successful fetch")
}

func TestCatalog_CloseStopsFollowingOrders(t *testing.T) {
	source := new(MockSource)
	source.On("GetOffers", mock.Anything).Return(models.OfferList{Offers: []models.Offer{{ID: "r1"}}}, nil)
	stream := newFakeOrderStream()
	c := NewCatalog(source, stream)
	require.NoError(t, c.Refresh(context.Background()))

	c.Close()
	stream.Set(models.Order{ID: "o1", OfferID: "r1", Status: models.OrderStatusPending})

	assert.Equal(t, []string{"r1"}, ids(c.Offers()))
	assert.Equal(t, 0, stream.Len())
}
