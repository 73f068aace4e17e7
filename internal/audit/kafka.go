package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// DefaultKafkaTopic carries waste-item records to fleet analytics.
const DefaultKafkaTopic = "bin.waste-items"

// kafkaRecord is the message value published per audit record.
type kafkaRecord struct {
	BinID      string `json:"binId"`
	Category   string `json:"category"`
	Operator   string `json:"operator"`
	RecordedAt string `json:"recordedAt"`
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records keyed by bin ID so one bin stays on one partition.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Append publishes rec.
func (k *KafkaSink) Append(ctx context.Context, rec logic.WasteItemRecord) error {
	msg, err := encodeKafkaRecord(rec)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}

func encodeKafkaRecord(rec logic.WasteItemRecord) (kafka.Message, error) {
	b, err := json.Marshal(kafkaRecord{
		BinID:      rec.BinID,
		Category:   string(rec.Category),
		Operator:   rec.OperatorIdentity,
		RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal record: %w", err)
	}
	return kafka.Message{Key: []byte(rec.BinID), Value: b, Time: rec.RecordedAt}, nil
}
