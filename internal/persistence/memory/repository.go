// Package memory keeps activities in process memory for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/observability"
)

// Repository implements domain.ActivityRepository over a map.
type Repository struct {
	mu          sync.RWMutex
	activities  map[string]domain.Activity
	idempotency map[string]string
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:  make(map[string]domain.Activity),
		idempotency: make(map[string]string),
	}
}

func idempotencyIndex(tenantID, userID, key string) string {
	return tenantID + "\x00" + userID + "\x00" + key
}

// FindByIdempotency implements domain.ActivityRepository.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Activity, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyIndex(tenantID, userID, idempotencyKey)]
	if !ok {
		return nil, nil
	}
	activity := r.activities[id]
	return &activity, nil
}

// Create implements domain.ActivityRepository.
func (r *Repository) Create(ctx context.Context, activity domain.Activity, idempotencyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activities[activity.ID] = activity
	if idempotencyKey != "" {
		r.idempotency[idempotencyIndex(activity.TenantID, activity.UserID, idempotencyKey)] = activity.ID
	}
	observability.RecordActivityPersisted(activity.CreatedAt)
	return nil
}

// Get implements domain.ActivityRepository.
func (r *Repository) Get(ctx context.Context, tenantID, activityID string) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activity, ok := r.activities[activityID]
	if !ok || activity.TenantID != tenantID {
		return nil, nil
	}
	return &activity, nil
}

// ListByUser implements domain.ActivityRepository, newest first.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	all := r.byUser(tenantID, userID)
	sort.Slice(all, func(i, j int) bool { return after(all[i], all[j]) })

	results := make([]domain.Activity, 0, limit)
	for _, a := range all {
		if cursor != nil && !after(domain.Activity{StartedAt: cursor.StartedAt, ID: cursor.ID}, a) {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, a)
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListSince implements domain.ActivityRepository, oldest first.
func (r *Repository) ListSince(ctx context.Context, tenantID, userID string, since time.Time) ([]domain.Activity, error) {
	all := r.byUser(tenantID, userID)
	results := make([]domain.Activity, 0, len(all))
	for _, a := range all {
		if !a.StartedAt.Before(since) {
			results = append(results, a)
		}
	}
	sort.Slice(results, func(i, j int) bool { return after(results[j], results[i]) })
	return results, nil
}

func (r *Repository) byUser(tenantID, userID string) []domain.Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0)
	for _, a := range r.activities {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// after orders by (StartedAt, ID), matching the Postgres keyset.
func after(a, b domain.Activity) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID > b.ID
}
