package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/use-agent/propintel/models"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	WriteTimeout time.Duration
	RequiredAcks int
}

// Kafka publishes each record as a JSON message keyed by listing URL, so all
// versions of a listing land on one partition.
type Kafka struct {
	w *kafka.Writer
}

// NewKafka builds a synchronous producer for cfg.Topic.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("sink: kafka needs brokers and a topic")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  kafka.Lz4,
	}
	slog.Info("kafka sink ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &Kafka{w: w}, nil
}

func (k *Kafka) Append(ctx context.Context, row models.Fields) error {
	value, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sink: encode kafka message: %w", err)
	}
	key, _ := row[models.FieldURL].(string)
	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}
	if err := k.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		return fmt.Errorf("sink: kafka write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
