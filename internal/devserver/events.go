package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types emitted by the dev server.
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// OrderEvent is published on order lifecycle changes so downstream
// dev tooling can observe the flow.
type OrderEvent struct {
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	Timestamp   time.Time          `json:"timestamp"`
	OrderID     int64              `json:"order_id"`
	UserID      int64              `json:"user_id"`
	TotalAmount float64            `json:"total_amount"`
	Status      models.OrderStatus `json:"status"`
}

// EventPublisher publishes order events to Kafka. A nil publisher is
// valid and publishes nothing, which is the default when no brokers
// are configured.
type EventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewEventPublisher creates a Kafka-backed publisher. Returns nil
// when no brokers are given.
func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &EventPublisher{writer: writer, logger: util.GetLogger()}
}

// Close closes the underlying writer.
func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishOrderEvent publishes one order lifecycle event. Failures are
// logged, never surfaced to the request path.
func (p *EventPublisher) PublishOrderEvent(ctx context.Context, eventType string, userID int64, order *models.Order) {
	if p == nil {
		return
	}

	event := OrderEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		Timestamp:   time.Now(),
		OrderID:     order.ID,
		UserID:      userID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal order event", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%d", order.ID)),
		Value: value,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	p.logger.Info("Published order event",
		zap.String("event_type", eventType),
		zap.Int64("order_id", order.ID))
}
