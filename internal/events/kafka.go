package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 10 * time.Second

// MessageWriter is the subset of [kafka.Writer] used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the producer behind a KafkaSink.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	BatchSize int
}

// NewKafkaWriter builds a producer for cfg. Messages are keyed by channel and
// hash-balanced, so events for one channel stay ordered on one partition.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	if cfg.BatchSize > 0 {
		w.BatchSize = cfg.BatchSize
	}
	return w
}

// KafkaSink forwards events to Kafka as JSON. Subscribe its Handle method
// on a Bus.
type KafkaSink struct {
	w   MessageWriter
	log *slog.Logger
}

// NewKafkaSink wraps w.
func NewKafkaSink(w MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{w: w, log: logger}
}

// Handle writes e to the topic. Failures are logged; a sync never fails
// because its notification could not be delivered.
func (s *KafkaSink) Handle(ctx context.Context, e Event) {
	if err := s.write(ctx, e); err != nil {
		s.log.Error("publishing event to kafka", "event", e.Type, "channel", e.Channel, "error", err)
		return
	}
	s.log.Debug("event published to kafka", "event", e.Type, "channel", e.Channel)
}

func (s *KafkaSink) write(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Channel),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "channel", Value: []byte(e.Channel)},
		},
	})
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
