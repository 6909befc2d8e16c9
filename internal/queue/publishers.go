package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CompletionPublisher emits completion messages to the completion topic.
// The simulated telephony provider uses it as its callback transport.
type CompletionPublisher struct {
	writer *kafka.Writer
}

// NewCompletionPublisher constructs a publisher for the given topic.
func NewCompletionPublisher(k *Kafka, topic string) *CompletionPublisher {
	return &CompletionPublisher{writer: k.NewWriter(topic)}
}

// PublishCompletion writes the completion message to Kafka.
func (p *CompletionPublisher) PublishCompletion(ctx context.Context, msg CompletionMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("completion publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("completion publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *CompletionPublisher) Close() error {
	return p.writer.Close()
}

// EventPublisher emits reconciled call events for analytics consumers.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher constructs an event publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// PublishEvent writes the call event message to Kafka.
func (p *EventPublisher) PublishEvent(ctx context.Context, msg CallEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
