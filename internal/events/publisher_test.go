package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failNext bool
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext {
		w.failNext = false
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

type orderStream struct {
	*observable.Value[models.Order]
}

func (s orderStream) AddOrderObserver(fn func(models.Order)) observable.ObserverID {
	return s.AddObserver(fn)
}

func (s orderStream) RemoveOrderObserver(id observable.ObserverID) {
	s.RemoveObserver(id)
}

func TestPublisher_WritesTransitionsKeyedByOrder(t *testing.T) {
	// Arrange
	writer := &recordingWriter{}
	stream := orderStream{observable.NewStream[models.Order]()}
	p := NewPublisher(writer, stream)

	// Act
	stream.Set(models.Order{ID: "o1", OfferID: "offer1", Status: models.OrderStatusPending, Origin: models.OriginMarketplace})
	stream.Set(models.Order{ID: "o1", OfferID: "offer1", Status: models.OrderStatusCompleted, Origin: models.OriginMarketplace})
	require.NoError(t, p.Close())

	// Assert
	msgs := writer.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "o1", string(msgs[0].Key))
	var event OrderEvent
	require.NoError(t, json.Unmarshal(msgs[1].Value, &event))
	assert.Equal(t, models.OrderStatusCompleted, event.Status)
	assert.Equal(t, "offer1", event.OfferID)
	assert.Equal(t, "completed", string(msgs[1].Headers[0].Value))
	assert.True(t, writer.closed)
	assert.Equal(t, 0, stream.Len())
}

func TestPublisher_WriteFailureDoesNotStopTheWorker(t *testing.T) {
	writer := &recordingWriter{failNext: true}
	stream := orderStream{observable.NewStream[models.Order]()}
	p := NewPublisher(writer, stream)
	t.Cleanup(func() { _ = p.Close() })

	stream.Set(models.Order{ID: "o1", Status: models.OrderStatusPending})
	stream.Set(models.Order{ID: "o2", Status: models.OrderStatusPending})

	require.Eventually(t, func() bool { return len(writer.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "o2", string(writer.written()[0].Key))
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	writer := &recordingWriter{}
	p := NewPublisher(writer, orderStream{observable.NewStream[models.Order]()})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

// capturedStream hands out its observer so a test can deliver after unsubscribe,
// as an executor holding an older observer snapshot would.
type capturedStream struct {
	observer func(models.Order)
}

func (s *capturedStream) AddOrderObserver(fn func(models.Order)) observable.ObserverID {
	s.observer = fn
	return 1
}

func (s *capturedStream) RemoveOrderObserver(observable.ObserverID) {}

func TestPublisher_TransitionAfterCloseIsDropped(t *testing.T) {
	// Arrange
	writer := &recordingWriter{}
	stream := &capturedStream{}
	p := NewPublisher(writer, stream)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				stream.observer(models.Order{ID: "o1", Status: models.OrderStatusPending})
			}
		}()
	}

	// Act
	require.NoError(t, p.Close())
	wg.Wait()

	// Assert
	assert.NotPanics(t, func() {
		stream.observer(models.Order{ID: "o2", Status: models.OrderStatusCompleted})
	})
	for _, msg := range writer.written() {
		assert.Equal(t, "o1", string(msg.Key))
	}
}
