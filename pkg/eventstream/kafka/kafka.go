// Package kafka implements an eventstream Publisher backed by a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/eventstream"
)

// DefaultTopic is the topic events land on when none is configured.
const DefaultTopic = "loom.events"

// PublisherConfig holds configuration for the Kafka publisher.
type PublisherConfig struct {
	// Brokers lists Kafka bootstrap addresses. Required.
	Brokers []string

	// Topic is the destination topic. Defaults to DefaultTopic.
	Topic string
}

// Publisher writes events to Kafka as JSON messages. Events sharing a
// collection or job id share a partition key, so consumers see them in
// order.
type Publisher struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(cfg.Brokers...),
		Topic:    topic,
		Balancer: &kafkago.Hash{},
	}

	return &Publisher{
		writer: writer,
		logger: logger,
	}, nil
}

// PublishIngest publishes a chunk ingestion event keyed by collection.
func (p *Publisher) PublishIngest(ctx context.Context, event *eventstream.ChunksIngestedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.Collection, event)
}

// PublishMigration publishes a migration progress event keyed by job id.
func (p *Publisher) PublishMigration(ctx context.Context, event *eventstream.MigrationProgressEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.JobID, event)
}

func (p *Publisher) publish(ctx context.Context, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("writing to kafka: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("topic", p.writer.Topic),
		zap.String("key", key),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
