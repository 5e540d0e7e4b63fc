package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the consumer relies on.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader MessageReader
	logger *zap.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
			CommitInterval:    time.Second,
		}),
		logger: logger,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume reads until ctx is done or the reader fails. A handler error is
// logged and the message is skipped; offsets are committed either way.
// Cancellation of ctx is a clean stop and returns nil.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, kafka.Message) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("handle kafka message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
				zap.Error(err))
		}
	}
}

// ConsumeOffers decodes offer notifications and hands them to handle.
// Undecodable payloads and other event types are dropped.
func (c *Consumer) ConsumeOffers(ctx context.Context, handle func(context.Context, OfferEvent) error) error {
	return c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
		var event OfferEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("drop undecodable offer",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		if event.Type != EventOffer {
			c.logger.Debug("skip event", zap.String("type", event.Type), zap.Int64("offset", msg.Offset))
			return nil
		}
		return handle(ctx, event)
	})
}
