package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/config"
)

// NewSaramaConfig returns the producer configuration used for lifecycle events.
func NewSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	// Keyed by user so one user's events land on one partition, in order
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

// KafkaSink publishes events as JSON to a topic. Payloads are checked against
// the lifecycle schema first; a violating event is never sent.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	log      logrus.FieldLogger
}

// NewKafkaSink connects a synchronous producer to cfg.Brokers.
func NewKafkaSink(cfg config.KafkaConfig, log logrus.FieldLogger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic, log), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, log logrus.FieldLogger) *KafkaSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &KafkaSink{producer: producer, topic: topic, log: log.WithField("component", "events.kafka")}
}

// Record implements Sink.
func (s *KafkaSink) Record(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.Key()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	s.log.WithFields(logrus.Fields{
		"event":     string(e.Type),
		"partition": partition,
		"offset":    offset,
	}).Debug("event published")
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
