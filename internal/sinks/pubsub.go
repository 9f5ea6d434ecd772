package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// PubSubSink publishes one JSON Record per result to a Pub/Sub topic.
type PubSubSink struct {
	topic   *pubsub.Topic
	records *RecordBuilder
}

// NewPubSubSink creates a sink for topic.
func NewPubSubSink(topic *pubsub.Topic, records *RecordBuilder) (*PubSubSink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if records == nil {
		records = NewRecordBuilder(nil)
	}
	return &PubSubSink{topic: topic, records: records}, nil
}

// Deliver implements scraper.Sink. It waits for the server to acknowledge the
// message.
func (s *PubSubSink) Deliver(ctx context.Context, res scraper.Result) error {
	rec, err := s.records.Build(res)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": rec.RunID,
			"ok":     fmt.Sprint(rec.OK),
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *PubSubSink) Close() {
	s.topic.Stop()
}
