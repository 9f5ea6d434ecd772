package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one JSON Record per result, keyed by URL so results for
// the same page land on the same partition.
type KafkaSink struct {
	writer  messageWriter
	records *RecordBuilder
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, records *RecordBuilder) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}, records), nil
}

// NewKafkaSinkWithWriter builds a sink using a custom writer (tests).
func NewKafkaSinkWithWriter(writer messageWriter, records *RecordBuilder) *KafkaSink {
	if records == nil {
		records = NewRecordBuilder(nil)
	}
	return &KafkaSink{writer: writer, records: records}
}

// Deliver implements scraper.Sink.
func (s *KafkaSink) Deliver(ctx context.Context, res scraper.Result) error {
	rec, err := s.records.Build(res)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.URL),
		Value: payload,
		Time:  rec.FetchedAt,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(rec.RunID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
