package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
	// HandleAttempts bounds retries of a message whose ingestion failed with
	// an internal error. The message is committed afterwards either way.
	HandleAttempts uint
}

type Consumer struct {
	reader   MessageReader
	ingestor *Ingestor
	logger   *slog.Logger
	attempts uint
	topic    string
}

func NewConsumer(cfg ConsumerConfig, ingestor *Ingestor, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumerWithReader(reader, cfg, ingestor, logger)
}

func newConsumerWithReader(reader MessageReader, cfg ConsumerConfig, ingestor *Ingestor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.HandleAttempts
	if attempts == 0 {
		attempts = 3
	}
	return &Consumer{
		reader:   reader,
		ingestor: ingestor,
		logger:   logger.With("component", "payment-consumer", "topic", cfg.Topic),
		attempts: attempts,
		topic:    cfg.Topic,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "error", err, "offset", msg.Offset, "partition", msg.Partition)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	log := c.logger.With("offset", msg.Offset, "partition", msg.Partition)

	var ev scheduling.PaymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Error("payment message is not valid JSON, skipping", "error", err)
		span.RecordError(err)
		return
	}

	res, err := backoff.Retry(ctxSpan, func() (scheduling.ReconcileResult, error) {
		res, err := c.ingestor.Ingest(ctxSpan, ev)
		if err != nil && scheduling.KindOf(err) != scheduling.KindInternal {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.attempts),
	)
	if err != nil {
		var sErr *scheduling.Error
		if errors.As(err, &sErr) && sErr.Kind != scheduling.KindInternal {
			log.Warn("payment message rejected", "reason", sErr.Reason, "error", err)
		} else {
			log.Error("payment message failed", "error", err)
		}
		span.RecordError(err)
		return
	}
	log.Debug("payment message handled", "outcome", res.Outcome, "appointment_id", res.AppointmentID)
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
