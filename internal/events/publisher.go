package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"example.com/activityboard/internal/domain"
)

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherOption configures optional behaviour for the KafkaPublisher.
type PublisherOption func(*KafkaPublisher)

// WithWriterFactory replaces the per-topic kafka.Writer constructor.
func WithWriterFactory(fn func(topic string) Writer) PublisherOption {
	return func(p *KafkaPublisher) {
		p.newWriter = fn
	}
}

// KafkaPublisher lazily manages writers per topic.
type KafkaPublisher struct {
	topic     string
	newWriter func(topic string) Writer

	mu      sync.Mutex
	writers map[string]Writer
}

// NewKafkaPublisher creates a KafkaPublisher that sends recorded activities to topic.
func NewKafkaPublisher(brokers []string, topic string, opts ...PublisherOption) *KafkaPublisher {
	p := &KafkaPublisher{
		topic:   topic,
		writers: make(map[string]Writer),
		newWriter: func(topic string) Writer {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireAll,
				Compression:  kafka.Snappy,
				Async:        false,
			}
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishRecorded implements domain.Publisher. Messages are keyed by tenant and
// user so one athlete's activities stay ordered within a partition.
func (p *KafkaPublisher) PublishRecorded(ctx context.Context, activity domain.Activity) error {
	body, err := json.Marshal(NewActivityRecorded(activity))
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:     []byte(PartitionKey(activity.TenantID, activity.UserID)),
		Value:   body,
		Headers: Headers(TypeActivityRecorded, activity.TenantID),
	}
	if err := p.WriteMessages(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TypeActivityRecorded, err)
	}
	return nil
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaPublisher) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) writerForTopic(topic string) Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}
	writer := p.newWriter(topic)
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

// PublishRecorded implements domain.Publisher.
func (NoopPublisher) PublishRecorded(context.Context, domain.Activity) error { return nil }

// Close implements io.Closer.
func (NoopPublisher) Close() error { return nil }
