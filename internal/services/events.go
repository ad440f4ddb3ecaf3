package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent est le message publié sur le topic des commandes.
type OrderEvent struct {
	EventID        string               `json:"event_id"`
	Type           string               `json:"type"`
	OrderID        string               `json:"order_id"`
	OrderNumber    string               `json:"order_number"`
	UserID         *string              `json:"user_id,omitempty"`
	OrderStatus    models.OrderStatus   `json:"order_status"`
	PreviousStatus models.OrderStatus   `json:"previous_status,omitempty"`
	PaymentType    models.PaymentType   `json:"payment_type"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
	Total          decimal.Decimal      `json:"total"`
	Timestamp      time.Time            `json:"timestamp"`
}

// MessageWriter est implémenté par *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type EventPublisher struct {
	writer MessageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher crée un writer asynchrone: la publication ne retarde jamais la réponse HTTP.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("❌ Publication Kafka échouée", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return NewEventPublisher(writer, logger)
}

func NewEventPublisher(writer MessageWriter, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{writer: writer, logger: logger, now: time.Now}
}

func (p *EventPublisher) OrderPlaced(ctx context.Context, order *models.Order, _ *models.ShippingDetail) {
	p.publish(ctx, p.event(EventOrderPlaced, order, ""))
}

func (p *EventPublisher) OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) {
	p.publish(ctx, p.event(EventOrderStatusChanged, order, from))
}

func (p *EventPublisher) event(kind string, order *models.Order, from models.OrderStatus) OrderEvent {
	return OrderEvent{
		EventID:        uuid.NewString(),
		Type:           kind,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		OrderStatus:    order.OrderStatus,
		PreviousStatus: from,
		PaymentType:    order.PaymentType,
		PaymentStatus:  order.PaymentStatus,
		Total:          order.Total,
		Timestamp:      p.now().UTC(),
	}
}

func (p *EventPublisher) publish(ctx context.Context, event OrderEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("❌ Sérialisation événement", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// clé = commande: tous les événements d'une commande restent sur la même partition
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		p.logger.Error("❌ Publication événement échouée",
			zap.String("type", event.Type), zap.String("order_number", event.OrderNumber), zap.Error(err))
		return
	}
	p.logger.Debug("📨 Événement publié", zap.String("type", event.Type), zap.String("order_number", event.OrderNumber))
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
