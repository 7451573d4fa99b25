package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes move events as JSON to a single topic, keyed by user id so one
// user's moves stay ordered within a partition.
type KafkaPublisher struct {
	topic    string
	producer messageWriter
}

// NewKafkaPublisher creates a KafkaPublisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, producer: newWriterPool(brokers)}
}

// PublishMoved writes all events in one batch.
func (p *KafkaPublisher) PublishMoved(ctx context.Context, events ...PlannedWorkoutMoved) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", TypePlannedWorkoutMoved, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.UserID),
			Value: body,
			Time:  evt.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(TypePlannedWorkoutMoved)},
				{Key: "event_id", Value: []byte(evt.EventID)},
			},
		})
	}
	if err := p.producer.WriteMessages(ctx, p.topic, msgs...); err != nil {
		return fmt.Errorf("publish %d move events to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

// Close releases the underlying writers.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// writerPool lazily manages writers per topic.
type writerPool struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func newWriterPool(brokers []string) *writerPool {
	return &writerPool{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *writerPool) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *writerPool) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = writer
	return writer
}

func (p *writerPool) Close() error {
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
