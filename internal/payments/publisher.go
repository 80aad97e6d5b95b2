package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes payment events to the payments topic, keyed by order id
// so every status change of one order lands on the same partition.
type Publisher struct {
	writer MessageWriter
}

func NewPublisher(brokers, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(SplitBrokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func newPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, ev scheduling.PaymentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	// Events for one order, or one appointment when there is no order id,
	// land on the same partition and stay ordered.
	key := ev.OrderID
	if key == "" {
		key = ev.AppointmentIDHint
	}
	msg := kafka.Message{
		Key:   []byte(ev.Provider + ":" + key),
		Value: body,
		Headers: InjectTraceHeaders(ctx, []kafka.Header{
			{Key: "event_type", Value: []byte("payment." + ev.Status)},
		}),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
