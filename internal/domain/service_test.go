package domain

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartRateTSS(t *testing.T) {
	// One hour at threshold is 100 by definition.
	require.InDelta(t, 100.0, HeartRateTSS(3600, 150, 150), 1e-9)
	require.InDelta(t, 25.0, HeartRateTSS(3600, 75, 150), 1e-9)
	require.InDelta(t, 50.0, HeartRateTSS(1800, 150, 150), 1e-9)
	require.Zero(t, HeartRateTSS(3600, 150, 0))
}

func TestChronicTrainingLoadIgnoresOutsideWindow(t *testing.T) {
	now := time.Date(2024, time.September, 30, 12, 0, 0, 0, time.UTC)
	activities := []Activity{
		{Type: TypeRun, StartedAt: now.AddDate(0, 0, -1), TSS: 42},
		{Type: TypeRun, StartedAt: now.AddDate(0, 0, -10), TSS: 42},
		{Type: TypeRun, StartedAt: now.AddDate(0, 0, -60), TSS: 1000},
	}
	require.InDelta(t, 2.0, ChronicTrainingLoad(activities, 42, now), 1e-9)
	require.Zero(t, ChronicTrainingLoad(activities, 0, now))
}

func TestActivityRecordDecodeKeepsMissingFields(t *testing.T) {
	var records []ActivityRecord
	err := json.Unmarshal([]byte(`[{"type":"Run","movingTime":1800,"tss":42.5},{"type":"Ride"}]`), &records)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ActivityRecord{Type: "Run", MovingTime: 1800, TSS: 42.5}, records[0])
	require.Equal(t, "Ride", records[1].Type)
	require.True(t, math.IsNaN(records[1].MovingTime))
	require.True(t, math.IsNaN(records[1].TSS))
}

func TestRecordActivityScoresAndPublishes(t *testing.T) {
	now := time.Date(2024, time.September, 5, 7, 0, 0, 0, time.UTC)
	repo := &stubRepo{}
	pub := &stubPublisher{}
	svc := NewService(repo, Thresholds{Run: 150, Ride: 140, Swim: 145}, WithPublisher(pub), WithClock(func() time.Time { return now }))

	activity, replay, err := svc.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:      "tenant-1",
		UserID:        "user-1",
		Type:          TypeRun,
		StartedAt:     now.Add(-time.Hour),
		MovingTimeSec: 3600,
		AverageHR:     150,
		Source:        "api",
	})
	require.NoError(t, err)
	require.False(t, replay)
	require.NotEmpty(t, activity.ID)
	require.InDelta(t, 1.0, activity.IntensityFactor, 1e-9)
	require.InDelta(t, 100.0, activity.TSS, 1e-9)
	require.Equal(t, now, activity.CreatedAt)
	require.Len(t, repo.created, 1)
	require.Equal(t, 1, pub.calls)
}

func TestRecordActivityRejectsUnknownType(t *testing.T) {
	svc := NewService(&stubRepo{}, Thresholds{Run: 150})
	_, _, err := svc.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Type:      "Donut",
		StartedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestRecordActivityReplaysIdempotencyKey(t *testing.T) {
	existing := &Activity{ID: "act-1", Type: TypeRun}
	repo := &stubRepo{existing: existing}
	svc := NewService(repo, Thresholds{Run: 150})

	activity, replay, err := svc.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:       "tenant-1",
		UserID:         "user-1",
		Type:           TypeRun,
		StartedAt:      time.Now(),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, "act-1", activity.ID)
	require.Empty(t, repo.created)
}

func TestRecordActivityKeepsStoredActivityWhenPublishFails(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, Thresholds{Ride: 140}, WithPublisher(&stubPublisher{err: errors.New("broker down")}))

	_, _, err := svc.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Type:      TypeRide,
		StartedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
}

func TestGetActivityNotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, Thresholds{})
	_, err := svc.GetActivity(context.Background(), "tenant-1", "missing")
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestRecentRecordsAndTrainingLoad(t *testing.T) {
	now := time.Date(2024, time.September, 30, 12, 0, 0, 0, time.UTC)
	repo := &stubRepo{since: []Activity{
		{Type: TypeRun, StartedAt: now.AddDate(0, 0, -2), MovingTimeSec: 1800, TSS: 42},
		{Type: TypeRide, StartedAt: now.AddDate(0, 0, -1), MovingTimeSec: 3600, TSS: 84},
	}}
	svc := NewService(repo, Thresholds{}, WithClock(func() time.Time { return now }))

	records, err := svc.RecentRecords(context.Background(), "tenant-1", "user-1", 42*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, []ActivityRecord{
		{Type: TypeRun, MovingTime: 1800, TSS: 42},
		{Type: TypeRide, MovingTime: 3600, TSS: 84},
	}, records)

	load, err := svc.TrainingLoad(context.Background(), "tenant-1", "user-1", 42)
	require.NoError(t, err)
	require.InDelta(t, 1.0, load.Run, 1e-9)
	require.InDelta(t, 2.0, load.Ride, 1e-9)
	require.Zero(t, load.Swim)
}

type stubRepo struct {
	existing *Activity
	created  []Activity
	since    []Activity
}

func (r *stubRepo) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*Activity, error) {
	return r.existing, nil
}

func (r *stubRepo) Create(ctx context.Context, activity Activity, idempotencyKey string) error {
	r.created = append(r.created, activity)
	return nil
}

func (r *stubRepo) Get(ctx context.Context, tenantID, activityID string) (*Activity, error) {
	return nil, nil
}

func (r *stubRepo) ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return r.created, nil, nil
}

func (r *stubRepo) ListSince(ctx context.Context, tenantID, userID string, since time.Time) ([]Activity, error) {
	return r.since, nil
}

type stubPublisher struct {
	calls int
	err   error
}

func (p *stubPublisher) PublishRecorded(context.Context, Activity) error {
	p.calls++
	return p.err
}
