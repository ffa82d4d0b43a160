// Package kafka carries MessageCreated events over a Kafka topic so that
// message writers and cache invalidation can run in separate processes.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"support-inbox-ai/internal/bus"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends events to Kafka. Messages are keyed by conversation id so
// one conversation's events stay ordered on a single partition.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (p *Publisher) Publish(ctx context.Context, evt bus.MessageCreated) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ConversationID),
		Value: data,
	}); err != nil {
		return fmt.Errorf("kafka: write event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads MessageCreated events with a consumer group.
type Consumer struct {
	reader messageReader
	logger *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka: topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, logger), nil
}

func newConsumer(r messageReader, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: r, logger: logger}
}

// Run hands every event to handle and commits its offset afterwards, until
// ctx is done. Undecodable messages and handler failures are logged and
// committed so one bad record cannot stall the partition.
func (c *Consumer) Run(ctx context.Context, handle bus.HandlerFunc) error {
	if handle == nil {
		return errors.New("kafka: handler must not be nil")
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: fetch message: %w", err)
		}

		c.dispatch(ctx, msg, handle)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message, handle bus.HandlerFunc) {
	var evt bus.MessageCreated
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.logger.Warn("skipping undecodable event",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
		return
	}
	if err := evt.Validate(); err != nil {
		c.logger.Warn("skipping invalid event",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
		return
	}
	if err := handle(ctx, evt); err != nil {
		c.logger.Error("event handler failed",
			"conversation_id", evt.ConversationID,
			"offset", msg.Offset,
			"err", err,
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
