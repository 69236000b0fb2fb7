package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter writes envelopes to a Kafka topic keyed by session id, so
// one session's changes stay on one partition in order.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter returns an emitter for topic on brokers.
func NewKafkaEmitter(brokers []string, topic string) (*KafkaEmitter, error) {
	if len(brokers) == 0 {
		return nil, errors.New("uplink: no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("uplink: no kafka topic configured")
	}
	return &KafkaEmitter{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Emit serializes env and writes it.
func (k *KafkaEmitter) Emit(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.SessionID),
		Value: payload,
		Time:  time.UnixMilli(env.Timestamp),
	})
}

// Close flushes and closes the writer.
func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
