package keysync

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"keysync-backend/internal/config"
	"keysync-backend/internal/engine"
)

// Producer publishes rule resync requests to Kafka. Messages are keyed
// by rule id with the hash partitioner, so one rule's requests always
// land on one partition and arrive in publish order.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// ProducerConfig returns the sarama settings the sync topic relies on:
// full-ISR acks before success and hash partitioning by message key.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Timeout = 10 * time.Second
	return cfg
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{producer: producer, topic: cfg.Topic}, nil
}

// NewProducerWith wraps an existing sarama producer (used by tests).
func NewProducerWith(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

func (p *Producer) Publish(_ context.Context, kind, ruleID string) error {
	payload, err := SyncMessage{Type: kind, RuleID: ruleID}.Encode()
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ruleID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish sync message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

var _ engine.Publisher = (*Producer)(nil)
