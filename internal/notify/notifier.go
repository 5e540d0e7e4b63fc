package notify

import (
	"context"

	"github.com/Domenick1991/attribution/internal/kafka"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	PublishWithRetry(ctx context.Context, topic, key string, payload any, maxRetries int) error
}

// KafkaNotifier puts offers on the notifications topic for the worker to
// deliver and lifecycle events on the attribution events topic.
type KafkaNotifier struct {
	producer           Producer
	notificationsTopic string
	eventsTopic        string
	eventRetries       int
}

type Option func(*KafkaNotifier)

func WithEventRetries(n int) Option {
	return func(k *KafkaNotifier) {
		if n > 0 {
			k.eventRetries = n
		}
	}
}

func NewKafkaNotifier(producer Producer, notificationsTopic, eventsTopic string, opts ...Option) *KafkaNotifier {
	k := &KafkaNotifier{
		producer:           producer,
		notificationsTopic: notificationsTopic,
		eventsTopic:        eventsTopic,
		eventRetries:       3,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NotifyOffer makes a single delivery attempt.
func (k *KafkaNotifier) NotifyOffer(ctx context.Context, offer kafka.OfferEvent) error {
	return k.producer.Publish(ctx, k.notificationsTopic, offer.AttributionID, offer)
}

func (k *KafkaNotifier) PublishAttributionEvent(ctx context.Context, event kafka.AttributionEvent) error {
	return k.producer.PublishWithRetry(ctx, k.eventsTopic, event.AttributionID, event, k.eventRetries)
}
