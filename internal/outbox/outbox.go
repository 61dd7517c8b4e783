// Package outbox persists activity events in Postgres and delivers them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/events"
)

const aggregateActivity = "activity"

// Message represents a row of the outbox table.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       json.RawMessage
}

// Publisher stages activity.recorded events in the outbox. Stage matches
// postgres.CreateHook, so the event commits or rolls back with the activity row.
type Publisher struct {
	topic string
}

// NewPublisher creates a Publisher writing recorded activities for topic.
func NewPublisher(topic string) *Publisher {
	return &Publisher{topic: topic}
}

// Stage enqueues an activity.recorded event within tx.
func (p *Publisher) Stage(ctx context.Context, tx pgx.Tx, activity domain.Activity) error {
	msg, err := p.recorded(activity)
	if err != nil {
		return err
	}
	if _, err := Enqueue(ctx, tx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.EventType, err)
	}
	return nil
}

func (p *Publisher) recorded(activity domain.Activity) (Message, error) {
	payload, err := json.Marshal(events.NewActivityRecorded(activity))
	if err != nil {
		return Message{}, err
	}
	return Message{
		TenantID:      activity.TenantID,
		AggregateType: aggregateActivity,
		AggregateID:   activity.ID,
		EventType:     events.TypeActivityRecorded,
		Topic:         p.topic,
		PartitionKey:  events.PartitionKey(activity.TenantID, activity.UserID),
		Payload:       payload,
	}, nil
}

// Enqueue inserts msg into the outbox within tx and returns its event ID.
func Enqueue(ctx context.Context, tx pgx.Tx, msg Message) (int64, error) {
	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING event_id`

	var eventID int64
	err := tx.QueryRow(ctx, stmt,
		msg.TenantID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Topic,
		msg.PartitionKey,
		[]byte(msg.Payload),
	).Scan(&eventID)
	return eventID, err
}
