package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventPublisher emits terminal call outcome events.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher constructs an event publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// Publish emits a call event message to Kafka.
func (p *EventPublisher) Publish(ctx context.Context, msg CallEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.QueueItemID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
