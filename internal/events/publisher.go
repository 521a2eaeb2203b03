package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Envelope is the versioned wrapper every order event is published in.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

type OrderEventPayload struct {
	OrderID int64 `json:"order_id"`
}

// Publisher writes order events to a Kafka topic. Dispatch is best-effort
// from the caller's point of view; a failed write is surfaced as an error
// for the caller to log.
type Publisher struct {
	writer  *kafkago.Writer
	service string
}

func NewPublisher(brokers []string, topic, service string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
		},
		service: service,
	}
}

func (p *Publisher) Notify(ctx context.Context, event string, orderID int64) error {
	payload, err := json.Marshal(OrderEventPayload{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	value, err := json.Marshal(Envelope{
		EventID:      uuid.NewString(),
		EventType:    event,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     p.service,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(fmt.Sprintf("%d", orderID)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "x-event-type", Value: []byte(event)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
