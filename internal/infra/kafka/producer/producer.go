package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

// Producer publishes JSON values to a single Kafka topic.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	topic    string
}

// New creates a new Producer.
// - brokers: Kafka broker addresses
// - topic: destination topic
// - s: retry strategy for sends
func New(brokers []string, topic string, s retry.Strategy) *Producer {
	client := wbfkafka.NewProducer(brokers, topic)
	// Partition by key hash so all messages for one key stay ordered.
	client.Writer.Balancer = &kafka.Hash{}

	return &Producer{
		Client:   client,
		strategy: s,
		topic:    topic,
	}
}

// Produce serializes value to JSON and sends it keyed by key.
// Messages sharing a key land on the same partition and keep their order.
func (p *Producer) Produce(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, []byte(key), data); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", p.topic, err)
	}

	return nil
}

// Topic returns the destination topic.
func (p *Producer) Topic() string {
	return p.topic
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return data, nil
}
