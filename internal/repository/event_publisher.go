package repository

import (
	"context"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	pkgkafka "hfttools/pkg/kafka"
)

// KafkaPublisher publishes trial events keyed by study name, so the events
// of one study stay ordered within a partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.EventPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishTrial(ctx context.Context, ev models.TrialEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Study), ev)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops events. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishTrial(context.Context, models.TrialEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
