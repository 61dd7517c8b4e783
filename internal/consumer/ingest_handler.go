package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/events"
)

// Recorder stores scored activities.
type Recorder interface {
	RecordActivity(ctx context.Context, input domain.RecordActivityInput) (*domain.Activity, bool, error)
}

// IngestHandler records activity.imported events through the domain service.
type IngestHandler struct {
	recorder Recorder
	logger   logrus.FieldLogger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(recorder Recorder, logger logrus.FieldLogger) *IngestHandler {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "ingest")
	}
	return &IngestHandler{recorder: recorder, logger: logger}
}

// Handle implements Handler. Other event types are acknowledged without action.
// Payloads that can never be recorded are dropped so they do not block the
// partition; storage errors are returned for redelivery.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeActivityImported {
		return nil
	}

	var imported events.ActivityImported
	if err := json.Unmarshal(msg.Payload, &imported); err != nil {
		h.reject(msg, "payload", err)
		return nil
	}

	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = imported.TenantID
	}
	idempotencyKey := ""
	if imported.ExternalID != "" {
		idempotencyKey = imported.Source + ":" + imported.ExternalID
	}

	activity, replay, err := h.recorder.RecordActivity(ctx, domain.RecordActivityInput{
		TenantID:       tenantID,
		UserID:         imported.UserID,
		Type:           imported.ActivityType,
		Name:           imported.Name,
		StartedAt:      imported.StartedAt,
		MovingTimeSec:  imported.MovingTimeSec,
		ElapsedTimeSec: imported.ElapsedTimeSec,
		DistanceM:      imported.DistanceM,
		AverageHR:      imported.AverageHR,
		MaxHR:          imported.MaxHR,
		Source:         imported.Source,
		IdempotencyKey: idempotencyKey,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidActivity):
		h.reject(msg, "invalid", err)
		return nil
	case errors.Is(err, domain.ErrUnsupportedType):
		h.reject(msg, "unsupported_type", err)
		return nil
	case err != nil:
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"activity_id": activity.ID,
		"tenant":      tenantID,
		"tss":         activity.TSS,
		"replay":      replay,
	}).Debug("imported activity recorded")
	return nil
}

func (h *IngestHandler) reject(msg Message, reason string, err error) {
	recordRejected(reason)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"topic":  msg.Topic,
		"offset": msg.Offset,
		"reason": reason,
	}).Warn("dropping imported activity")
}
