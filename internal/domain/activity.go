package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Supported activity types.
const (
	TypeRun  = "Run"
	TypeRide = "Ride"
	TypeSwim = "Swim"
)

// ActivityRecord is the projection of an activity handed to the table renderer.
type ActivityRecord struct {
	Type       string  `json:"type"`
	MovingTime float64 `json:"movingTime"`
	TSS        float64 `json:"tss"`
}

// UnmarshalJSON keeps records with absent fields instead of rejecting the whole
// payload. A missing label stays empty and a missing number becomes NaN, so the
// consumer that reads the field is the one that reports it.
func (r *ActivityRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type       *string  `json:"type"`
		MovingTime *float64 `json:"movingTime"`
		TSS        *float64 `json:"tss"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = ActivityRecord{MovingTime: math.NaN(), TSS: math.NaN()}
	if wire.Type != nil {
		r.Type = *wire.Type
	}
	if wire.MovingTime != nil {
		r.MovingTime = *wire.MovingTime
	}
	if wire.TSS != nil {
		r.TSS = *wire.TSS
	}
	return nil
}

// Activity is the canonical workout record stored by the service.
type Activity struct {
	ID              string
	TenantID        string
	UserID          string
	Type            string
	Name            string
	StartedAt       time.Time
	MovingTimeSec   int
	ElapsedTimeSec  int
	DistanceM       float64
	AverageHR       float64
	MaxHR           float64
	IntensityFactor float64
	TSS             float64
	Source          string
	CreatedAt       time.Time
}

// Record projects the activity onto the fields the activity table displays.
func (a Activity) Record() ActivityRecord {
	return ActivityRecord{
		Type:       a.Type,
		MovingTime: float64(a.MovingTimeSec),
		TSS:        a.TSS,
	}
}

// Thresholds holds the lactate threshold heart rate per sport.
type Thresholds struct {
	Run  float64 `yaml:"run"`
	Ride float64 `yaml:"ride"`
	Swim float64 `yaml:"swim"`
}

// For returns the threshold heart rate configured for the activity type.
func (t Thresholds) For(activityType string) (float64, bool) {
	switch activityType {
	case TypeRun:
		return t.Run, true
	case TypeRide:
		return t.Ride, true
	case TypeSwim:
		return t.Swim, true
	}
	return 0, false
}

// IntensityFactor is average heart rate relative to threshold heart rate.
func IntensityFactor(averageHR, thresholdHR float64) float64 {
	if thresholdHR <= 0 {
		return 0
	}
	return averageHR / thresholdHR
}

// HeartRateTSS computes hrTSS: duration in hours times IF squared times 100.
// One hour at threshold scores 100.
func HeartRateTSS(movingTimeSec int, averageHR, thresholdHR float64) float64 {
	intensity := IntensityFactor(averageHR, thresholdHR)
	hours := float64(movingTimeSec) / 3600.0
	return hours * intensity * intensity * 100
}

// FilterByType returns the activities of the given type, preserving order.
func FilterByType(activities []Activity, activityType string) []Activity {
	out := make([]Activity, 0, len(activities))
	for _, a := range activities {
		if strings.EqualFold(a.Type, activityType) {
			out = append(out, a)
		}
	}
	return out
}

// ChronicTrainingLoad averages daily TSS over the trailing window of days ending at now.
func ChronicTrainingLoad(activities []Activity, days int, now time.Time) float64 {
	if days <= 0 {
		return 0
	}
	since := now.AddDate(0, 0, -days)
	var total float64
	for _, a := range activities {
		if a.StartedAt.Before(since) || a.StartedAt.After(now) {
			continue
		}
		total += a.TSS
	}
	return total / float64(days)
}
