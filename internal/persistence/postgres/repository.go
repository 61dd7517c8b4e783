package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/observability"
)

const activityColumns = `activity_id, tenant_id, user_id, activity_type, name, started_at, moving_time_sec, elapsed_time_sec,
        distance_m, average_hr, max_hr, intensity_factor, tss, source, created_at`

// CreateHook runs inside the transaction that inserts an activity. Returning an
// error rolls the insert back.
type CreateHook func(ctx context.Context, tx pgx.Tx, activity domain.Activity) error

// Option configures optional behaviour for the Repository.
type Option func(*Repository)

// WithCreateHook adds a hook run after each activity insert, in the same transaction.
func WithCreateHook(hook CreateHook) Option {
	return func(r *Repository) {
		r.onCreate = append(r.onCreate, hook)
	}
}

// Repository provides Postgres-backed persistence for activities.
type Repository struct {
	pool     *pgxpool.Pool
	onCreate []CreateHook
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindByIdempotency checks if an activity already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Activity, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2 AND idempotency_key=$3`

	var found *domain.Activity
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		activity, err := scanActivity(tx.QueryRow(ctx, query, tenantID, userID, idempotencyKey))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &activity
		return nil
	})
	return found, err
}

// Create persists the activity and runs the create hooks in the same transaction.
func (r *Repository) Create(ctx context.Context, activity domain.Activity, idempotencyKey string) error {
	const stmt = `INSERT INTO activities (activity_id, tenant_id, user_id, activity_type, name, started_at, moving_time_sec, elapsed_time_sec,
        distance_m, average_hr, max_hr, intensity_factor, tss, source, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	err := r.inTenant(ctx, activity.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			activity.ID,
			activity.TenantID,
			activity.UserID,
			activity.Type,
			activity.Name,
			activity.StartedAt,
			activity.MovingTimeSec,
			activity.ElapsedTimeSec,
			activity.DistanceM,
			activity.AverageHR,
			activity.MaxHR,
			activity.IntensityFactor,
			activity.TSS,
			activity.Source,
			nullIfEmpty(idempotencyKey),
			activity.CreatedAt,
		)
		if err != nil {
			return err
		}
		for _, hook := range r.onCreate {
			if err := hook(ctx, tx, activity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	observability.RecordActivityPersisted(activity.CreatedAt)
	return nil
}

// Get retrieves an activity by ID. A missing activity yields nil, nil.
func (r *Repository) Get(ctx context.Context, tenantID, activityID string) (*domain.Activity, error) {
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND activity_id=$2`

	var found *domain.Activity
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		activity, err := scanActivity(tx.QueryRow(ctx, query, tenantID, activityID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &activity
		return nil
	})
	return found, err
}

// ListByUser returns activities for a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{tenantID, userID, limit}
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		query += ` AND (started_at, activity_id) < ($4, $5)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += ` ORDER BY started_at DESC, activity_id DESC LIMIT $3`

	var results []domain.Activity
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		results, err = queryActivities(ctx, tx, limit, query, args...)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ListSince returns the activities started at or after since, oldest first.
func (r *Repository) ListSince(ctx context.Context, tenantID, userID string, since time.Time) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2 AND started_at >= $3
        ORDER BY started_at ASC, activity_id ASC`

	var results []domain.Activity
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		results, err = queryActivities(ctx, tx, 0, query, tenantID, userID, since)
		return err
	})
	return results, err
}

// inTenant runs fn in a transaction scoped to the tenant's row-level security policy.
func (r *Repository) inTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func queryActivities(ctx context.Context, tx pgx.Tx, capacity int, query string, args ...interface{}) ([]domain.Activity, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, capacity)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, activity)
	}
	return results, rows.Err()
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.ID, &a.TenantID, &a.UserID, &a.Type, &a.Name, &a.StartedAt, &a.MovingTimeSec, &a.ElapsedTimeSec,
		&a.DistanceM, &a.AverageHR, &a.MaxHR, &a.IntensityFactor, &a.TSS, &a.Source, &a.CreatedAt)
	return a, err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
