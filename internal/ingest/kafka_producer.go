package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/homeservice-dispatch/internal/models"
)

const DefaultPingTopic = "ride-pings"

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer streams ride pings to the archive topic. Messages are keyed
// by ride id so one ride stays ordered within a partition.
type KafkaProducer struct {
	writer MessageWriter
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if topic == "" {
		topic = DefaultPingTopic
	}
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaProducer{writer: w}
}

func NewKafkaProducerWith(w MessageWriter) *KafkaProducer { return &KafkaProducer{writer: w} }

func (k *KafkaProducer) SavePing(ctx context.Context, p models.Ping) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodePing parses a message written by SavePing.
func DecodePing(msg kafka.Message) (models.Ping, error) {
	var p models.Ping
	err := json.Unmarshal(msg.Value, &p)
	return p, err
}
