// Package telemetry ships ride lifecycle transitions off the device.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Transition is one committed lifecycle state change.
type Transition struct {
	RideID string    `json:"ride_id,omitempty"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type Publisher interface {
	PublishTransition(ctx context.Context, t Transition) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

// PublishTransition is keyed by ride so one ride's transitions stay ordered.
func (k *KafkaPublisher) PublishTransition(ctx context.Context, t Transition) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(t)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.RideID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, Transition) error { return nil }
func (NopPublisher) Close() error                                      { return nil }
