// Package events defines the activity event payloads exchanged over Kafka and
// publishes the ones this service emits.
package events

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/activityboard/internal/domain"
)

// Event types carried in the event_type header.
const (
	TypeActivityImported = "activity.imported"
	TypeActivityRecorded = "activity.recorded"
)

// Header keys set on every message.
const (
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// ActivityImported is consumed from upstream importers (device sync, file uploads).
type ActivityImported struct {
	ExternalID     string    `json:"external_id"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	ActivityType   string    `json:"activity_type"`
	Name           string    `json:"name"`
	StartedAt      time.Time `json:"started_at"`
	MovingTimeSec  int       `json:"moving_time_sec"`
	ElapsedTimeSec int       `json:"elapsed_time_sec"`
	DistanceM      float64   `json:"distance_m"`
	AverageHR      float64   `json:"average_heartrate"`
	MaxHR          float64   `json:"max_heartrate"`
	Source         string    `json:"source"`
}

// ActivityRecorded is emitted once an activity has been scored and stored.
type ActivityRecorded struct {
	ActivityID      string    `json:"activity_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	ActivityType    string    `json:"activity_type"`
	StartedAt       time.Time `json:"started_at"`
	MovingTimeSec   int       `json:"moving_time_sec"`
	IntensityFactor float64   `json:"intensity_factor"`
	TSS             float64   `json:"tss"`
	Source          string    `json:"source"`
}

// NewActivityRecorded builds the recorded event for a stored activity.
func NewActivityRecorded(activity domain.Activity) ActivityRecorded {
	return ActivityRecorded{
		ActivityID:      activity.ID,
		TenantID:        activity.TenantID,
		UserID:          activity.UserID,
		ActivityType:    activity.Type,
		StartedAt:       activity.StartedAt,
		MovingTimeSec:   activity.MovingTimeSec,
		IntensityFactor: activity.IntensityFactor,
		TSS:             activity.TSS,
		Source:          activity.Source,
	}
}

// PartitionKey keys messages by tenant and user.
func PartitionKey(tenantID, userID string) string {
	return fmt.Sprintf("%s:%s", tenantID, userID)
}

// Headers returns the standard headers for an event.
func Headers(eventType, tenantID string) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderTenantID, Value: []byte(tenantID)},
	}
}
