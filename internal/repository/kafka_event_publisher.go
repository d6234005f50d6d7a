package repository

import (
	"context"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	pkgkafka "FxPull/pkg/kafka"
)

// KafkaEventPublisher publishes CandlesStoredEvent messages keyed by pair.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) domrepo.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishCandlesStored(ctx context.Context, ev models.CandlesStoredEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return p.producer.Publish(ctx, p.topic, []byte(ev.Pair), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopEventPublisher is used when kafka is disabled.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishCandlesStored(context.Context, models.CandlesStoredEvent) error {
	return nil
}

func (NoopEventPublisher) Close() error { return nil }
