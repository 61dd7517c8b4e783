// Package domain defines the business logic for activity tracking and training load.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrUnsupportedType is returned for activity types without a configured threshold.
	ErrUnsupportedType = errors.New("unsupported activity type")
	// ErrInvalidActivity wraps validation failures on input.
	ErrInvalidActivity = errors.New("invalid activity")
)

// ActivityRepository captures persistence operations.
type ActivityRepository interface {
	FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*Activity, error)
	Create(ctx context.Context, activity Activity, idempotencyKey string) error
	Get(ctx context.Context, tenantID, activityID string) (*Activity, error)
	ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	ListSince(ctx context.Context, tenantID, userID string, since time.Time) ([]Activity, error)
}

// Publisher announces recorded activities to downstream consumers.
type Publisher interface {
	PublishRecorded(ctx context.Context, activity Activity) error
}

type noopPublisher struct{}

func (noopPublisher) PublishRecorded(context.Context, Activity) error { return nil }

// RecordActivityInput captures the payload from the API or ingestion layer.
type RecordActivityInput struct {
	TenantID       string
	UserID         string
	Type           string
	Name           string
	StartedAt      time.Time
	MovingTimeSec  int
	ElapsedTimeSec int
	DistanceM      float64
	AverageHR      float64
	MaxHR          float64
	Source         string
	IdempotencyKey string
}

// Validate ensures the input describes a storable activity.
func (in RecordActivityInput) Validate() error {
	switch {
	case strings.TrimSpace(in.TenantID) == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidActivity)
	case strings.TrimSpace(in.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidActivity)
	case strings.TrimSpace(in.Type) == "":
		return fmt.Errorf("%w: type is required", ErrInvalidActivity)
	case in.StartedAt.IsZero():
		return fmt.Errorf("%w: started_at is required", ErrInvalidActivity)
	case in.MovingTimeSec < 0:
		return fmt.Errorf("%w: moving_time must be >= 0", ErrInvalidActivity)
	case in.AverageHR < 0:
		return fmt.Errorf("%w: average_heartrate must be >= 0", ErrInvalidActivity)
	}
	return nil
}

// TrainingLoad is the chronic training load per sport over a window.
type TrainingLoad struct {
	WindowDays int
	Run        float64
	Ride       float64
	Swim       float64
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithPublisher sets the publisher notified after an activity is stored.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates activity workflows.
type Service struct {
	repo       ActivityRepository
	thresholds Thresholds
	publisher  Publisher
	now        func() time.Time
	logger     logrus.FieldLogger
}

// NewService constructs a Service.
func NewService(repo ActivityRepository, thresholds Thresholds, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		thresholds: thresholds,
		publisher:  noopPublisher{},
		now:        time.Now,
		logger:     logrus.StandardLogger().WithField("component", "domain"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordActivity scores and stores an activity. The boolean reports an idempotent replay.
func (s *Service) RecordActivity(ctx context.Context, input RecordActivityInput) (*Activity, bool, error) {
	if err := input.Validate(); err != nil {
		return nil, false, err
	}
	threshold, ok := s.thresholds.For(input.Type)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedType, input.Type)
	}

	if input.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	activity := Activity{
		ID:              uuid.NewString(),
		TenantID:        input.TenantID,
		UserID:          input.UserID,
		Type:            input.Type,
		Name:            input.Name,
		StartedAt:       input.StartedAt.UTC(),
		MovingTimeSec:   input.MovingTimeSec,
		ElapsedTimeSec:  input.ElapsedTimeSec,
		DistanceM:       input.DistanceM,
		AverageHR:       input.AverageHR,
		MaxHR:           input.MaxHR,
		IntensityFactor: IntensityFactor(input.AverageHR, threshold),
		TSS:             HeartRateTSS(input.MovingTimeSec, input.AverageHR, threshold),
		Source:          input.Source,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.repo.Create(ctx, activity, input.IdempotencyKey); err != nil {
		return nil, false, err
	}

	if err := s.publisher.PublishRecorded(ctx, activity); err != nil {
		// The activity is stored; downstream consumers catch up from the table.
		s.logger.WithError(err).WithField("activity_id", activity.ID).Warn("publish recorded activity failed")
	}
	return &activity, false, nil
}

// GetActivity fetches by ID.
func (s *Service) GetActivity(ctx context.Context, tenantID, activityID string) (*Activity, error) {
	activity, err := s.repo.Get(ctx, tenantID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches activities with cursor pagination, newest first.
func (s *Service) ListActivities(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListByUser(ctx, tenantID, userID, cursor, limit)
}

// RecentRecords returns the table projection of the activities started within the window.
func (s *Service) RecentRecords(ctx context.Context, tenantID, userID string, window time.Duration) ([]ActivityRecord, error) {
	activities, err := s.repo.ListSince(ctx, tenantID, userID, s.now().Add(-window))
	if err != nil {
		return nil, err
	}
	records := make([]ActivityRecord, 0, len(activities))
	for _, a := range activities {
		records = append(records, a.Record())
	}
	return records, nil
}

// TrainingLoad computes chronic training load per sport over the trailing window of days.
func (s *Service) TrainingLoad(ctx context.Context, tenantID, userID string, days int) (TrainingLoad, error) {
	now := s.now()
	activities, err := s.repo.ListSince(ctx, tenantID, userID, now.AddDate(0, 0, -days))
	if err != nil {
		return TrainingLoad{}, err
	}
	return TrainingLoad{
		WindowDays: days,
		Run:        ChronicTrainingLoad(FilterByType(activities, TypeRun), days, now),
		Ride:       ChronicTrainingLoad(FilterByType(activities, TypeRide), days, now),
		Swim:       ChronicTrainingLoad(FilterByType(activities, TypeSwim), days, now),
	}, nil
}
