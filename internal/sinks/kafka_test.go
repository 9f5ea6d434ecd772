package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_WritesRecord(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(writer, NewRecordBuilder(&seqIDs{}))

	require.NoError(t, sink.Deliver(context.Background(), okResult("https://example.com", "hello world")))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, "https://example.com", string(msg.Key))
	assert.Equal(t, fetchedAt, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, "run-1", string(msg.Headers[0].Value))

	var rec Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, 11, rec.ContentBytes)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	t.Parallel()

	sink := NewKafkaSinkWithWriter(&fakeWriter{err: errors.New("leader not available")}, nil)
	err := sink.Deliver(context.Background(), failedResult("https://bad.invalid"))
	require.ErrorContains(t, err, "leader not available")
}

func TestNewKafkaSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaSink(nil, "topic", nil)
	require.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "", nil)
	require.Error(t, err)

	sink, err := NewKafkaSink([]string{"localhost:9092"}, "scrape-results", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}
