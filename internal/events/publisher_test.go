package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/activityboard/internal/domain"
)

func TestKafkaPublisherPublishRecorded(t *testing.T) {
	writers := map[string]*fakeWriter{}
	publisher := NewKafkaPublisher(nil, "activity.recorded", WithWriterFactory(func(topic string) Writer {
		w := &fakeWriter{}
		writers[topic] = w
		return w
	}))

	activity := domain.Activity{
		ID:        "a-1",
		TenantID:  "t-1",
		UserID:    "u-1",
		Type:      domain.TypeRun,
		StartedAt: time.Date(2024, time.September, 1, 7, 0, 0, 0, time.UTC),
		TSS:       42.5,
	}
	require.NoError(t, publisher.PublishRecorded(context.Background(), activity))
	require.NoError(t, publisher.PublishRecorded(context.Background(), activity))

	require.Len(t, writers, 1)
	w := writers["activity.recorded"]
	require.Len(t, w.msgs, 2)

	msg := w.msgs[0]
	require.Equal(t, "t-1:u-1", string(msg.Key))
	require.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte(TypeActivityRecorded)},
		{Key: "tenant_id", Value: []byte("t-1")},
	}, msg.Headers)

	var payload ActivityRecorded
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	require.Equal(t, "a-1", payload.ActivityID)
	require.Equal(t, 42.5, payload.TSS)

	require.NoError(t, publisher.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("leader not available")
	publisher := NewKafkaPublisher(nil, "activity.recorded", WithWriterFactory(func(string) Writer {
		return &fakeWriter{err: boom}
	}))

	err := publisher.PublishRecorded(context.Background(), domain.Activity{ID: "a-1"})
	require.ErrorIs(t, err, boom)
}

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
