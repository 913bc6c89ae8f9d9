// Package events forwards order status transitions to a Kafka topic so services
// outside the process can follow orders without polling the ledger.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/matheusmosca/offers-marketplace/internal/models"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

const defaultBuffer = 256

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderStream is the order status stream of the orders engine.
type OrderStream interface {
	AddOrderObserver(fn func(models.Order)) observable.ObserverID
	RemoveOrderObserver(id observable.ObserverID)
}

// OrderEvent is the message value written for every transition.
type OrderEvent struct {
	OrderID    string             `json:"order_id"`
	OfferID    string             `json:"offer_id"`
	OfferType  models.OfferType   `json:"offer_type,omitempty"`
	Origin     models.Origin      `json:"origin"`
	Status     models.OrderStatus `json:"status"`
	Amount     int64              `json:"amount"`
	Error      *models.OrderError `json:"error,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher writes order transitions from a stream to Kafka on its own goroutine.
// Observers of the stream are never blocked: when the buffer is full the event is
// dropped and logged.
type Publisher struct {
	writer MessageWriter
	stream OrderStream
	events chan OrderEvent

	// mu guards closed and every send on events.
	mu     sync.Mutex
	closed bool

	observer  observable.ObserverID
	closeOnce sync.Once
	done      chan struct{}
}

// NewKafkaWriter creates the writer for the order topic. Messages are keyed by
// order id and hashed so all transitions of one order land on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewPublisher subscribes to stream and starts the writer goroutine.
func NewPublisher(writer MessageWriter, stream OrderStream) *Publisher {
	p := &Publisher{
		writer: writer,
		stream: stream,
		events: make(chan OrderEvent, defaultBuffer),
		done:   make(chan struct{}),
	}
	go p.run()
	p.observer = stream.AddOrderObserver(p.enqueue)
	return p
}

// Close unsubscribes, flushes the buffered events and closes the writer.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.stream.RemoveOrderObserver(p.observer)
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.done
		err = p.writer.Close()
	})
	return err
}

func (p *Publisher) enqueue(order models.Order) {
	event := OrderEvent{
		OrderID:    order.ID,
		OfferID:    order.OfferID,
		OfferType:  order.OfferType,
		Origin:     order.Origin,
		Status:     order.Status,
		Amount:     order.Amount,
		Error:      order.Error,
		OccurredAt: time.Now().UTC(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Printf("ℹ️ [EVENTS] Publisher closed, dropping | OrderID=%s | Status=%s", order.ID, order.Status)
		return
	}
	select {
	case p.events <- event:
	default:
		log.Printf("⚠️  [EVENTS] Buffer full, dropping | OrderID=%s | Status=%s", order.ID, order.Status)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.events {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("❌ [EVENTS] Could not encode event | OrderID=%s | Error=%v", event.OrderID, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.OrderID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "status", Value: []byte(event.Status)},
			},
		})
		cancel()
		if err != nil {
			log.Printf("❌ [EVENTS] Failed to write to kafka | OrderID=%s | Error=%v", event.OrderID, err)
			continue
		}
		log.Printf("✅ [EVENTS] Order event published | OrderID=%s | Status=%s", event.OrderID, event.Status)
	}
}
