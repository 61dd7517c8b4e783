//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/events"
	"example.com/activityboard/internal/persistence/memory"
)

func TestKafkaImportedActivityIsRecorded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := events.TypeActivityImported
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	logger, _ := test.NewNullLogger()
	service := domain.NewService(memory.NewRepository(), domain.Thresholds{Run: 160, Ride: 150, Swim: 140},
		domain.WithLogger(logger))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "activityboard-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	proc := NewProcessor(reader, NewIngestHandler(service, logger), WithLogger(logger))
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	imported := events.ActivityImported{
		ExternalID:    "garmin-1",
		TenantID:      "tenant-1",
		UserID:        "user-1",
		ActivityType:  domain.TypeRun,
		StartedAt:     time.Now().UTC().Add(-time.Hour),
		MovingTimeSec: 1800,
		AverageHR:     160,
		Source:        "garmin",
	}
	payload, err := json.Marshal(imported)
	require.NoError(t, err)

	msg := kafka.Message{
		Key:     []byte(events.PartitionKey(imported.TenantID, imported.UserID)),
		Value:   payload,
		Headers: events.Headers(events.TypeActivityImported, imported.TenantID),
	}
	// Redelivery of the same import is absorbed by the idempotency key.
	require.NoError(t, writer.WriteMessages(ctx, msg, msg))

	require.Eventually(t, func() bool {
		records, err := service.RecentRecords(ctx, "tenant-1", "user-1", 42*24*time.Hour)
		return err == nil && len(records) == 1 && records[0].TSS == 50
	}, 30*time.Second, 500*time.Millisecond)

	require.Never(t, func() bool {
		records, _ := service.RecentRecords(ctx, "tenant-1", "user-1", 42*24*time.Hour)
		return len(records) != 1
	}, 2*time.Second, 200*time.Millisecond)
}
