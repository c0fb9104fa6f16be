package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig 配置 Kafka 推送
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka 把新公告以 JSON 写入 topic，key 为指纹，同一公告总落在同一分区
type Kafka struct {
	writer *kafka.Writer
}

type kafkaPayload struct {
	Source      string    `json:"source"`
	SourceName  string    `json:"sourceName"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Date        *string   `json:"date,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"text"`
	DetectedAt  time.Time `json:"detectedAt"`
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Kafka{writer: w}, nil
}

func encodeKafka(n Notification) ([]byte, error) {
	return json.Marshal(kafkaPayload{
		Source:      n.SourceID,
		SourceName:  n.SourceName,
		Title:       n.Record.Title,
		Link:        n.Record.Link,
		Date:        n.Record.Date,
		Fingerprint: n.Fingerprint,
		Text:        n.Text,
		DetectedAt:  n.DetectedAt,
	})
}

func (k *Kafka) Notify(ctx context.Context, n Notification) error {
	value, err := encodeKafka(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.Fingerprint),
		Value: value,
		Time:  n.DetectedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message to kafka: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
