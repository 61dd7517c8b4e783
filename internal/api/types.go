package api

import (
	"errors"
	"strings"
	"time"

	"example.com/activityboard/internal/domain"
)

// RecordActivityRequest is the payload for POST /v1/activities.
type RecordActivityRequest struct {
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	StartedAt      time.Time `json:"started_at"`
	MovingTimeSec  int       `json:"moving_time"`
	ElapsedTimeSec int       `json:"elapsed_time"`
	DistanceM      float64   `json:"distance"`
	AverageHR      float64   `json:"average_heartrate"`
	MaxHR          float64   `json:"max_heartrate"`
	Source         string    `json:"source"`
}

// Validate ensures request correctness.
func (r RecordActivityRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	if r.MovingTimeSec <= 0 {
		return errors.New("moving_time must be > 0")
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source is required")
	}
	return nil
}

// RecordActivityResponse describes the response body for create.
type RecordActivityResponse struct {
	Activity ActivityView `json:"activity"`
	Replay   bool         `json:"idempotent_replay"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	Type            string    `json:"type"`
	Name            string    `json:"name,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	MovingTimeSec   int       `json:"moving_time"`
	ElapsedTimeSec  int       `json:"elapsed_time"`
	DistanceM       float64   `json:"distance"`
	AverageHR       float64   `json:"average_heartrate"`
	MaxHR           float64   `json:"max_heartrate"`
	IntensityFactor float64   `json:"intensity_factor"`
	TSS             float64   `json:"tss"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// TrainingLoadResponse reports chronic training load per sport.
type TrainingLoadResponse struct {
	WindowDays int     `json:"window_days"`
	Run        float64 `json:"run_ctl"`
	Ride       float64 `json:"ride_ctl"`
	Swim       float64 `json:"swim_ctl"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		TenantID:        a.TenantID,
		UserID:          a.UserID,
		Type:            a.Type,
		Name:            a.Name,
		StartedAt:       a.StartedAt,
		MovingTimeSec:   a.MovingTimeSec,
		ElapsedTimeSec:  a.ElapsedTimeSec,
		DistanceM:       a.DistanceM,
		AverageHR:       a.AverageHR,
		MaxHR:           a.MaxHR,
		IntensityFactor: a.IntensityFactor,
		TSS:             a.TSS,
		Source:          a.Source,
		CreatedAt:       a.CreatedAt,
	}
}
