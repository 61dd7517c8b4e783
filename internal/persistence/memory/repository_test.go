package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityboard/internal/domain"
)

func TestRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	activity := domain.Activity{ID: "a-1", TenantID: "t-1", UserID: "u-1", Type: domain.TypeRun, StartedAt: time.Now()}

	require.NoError(t, repo.Create(ctx, activity, "key-1"))

	got, err := repo.Get(ctx, "t-1", "a-1")
	require.NoError(t, err)
	require.Equal(t, activity, *got)

	other, err := repo.Get(ctx, "t-2", "a-1")
	require.NoError(t, err)
	require.Nil(t, other)

	replay, err := repo.FindByIdempotency(ctx, "t-1", "u-1", "key-1")
	require.NoError(t, err)
	require.Equal(t, "a-1", replay.ID)

	none, err := repo.FindByIdempotency(ctx, "t-1", "u-2", "key-1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestRepositoryListByUserPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	base := time.Date(2024, time.September, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, domain.Activity{
			ID:        fmt.Sprintf("a-%d", i),
			TenantID:  "t-1",
			UserID:    "u-1",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}, ""))
	}
	require.NoError(t, repo.Create(ctx, domain.Activity{ID: "x", TenantID: "t-1", UserID: "u-2", StartedAt: base}, ""))

	page, next, err := repo.ListByUser(ctx, "t-1", "u-1", nil, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a-4", "a-3"}, ids(page))
	require.NotNil(t, next)

	page, next, err = repo.ListByUser(ctx, "t-1", "u-1", next, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a-2", "a-1"}, ids(page))

	page, next, err = repo.ListByUser(ctx, "t-1", "u-1", next, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a-0"}, ids(page))
	require.Nil(t, next)
}

func TestRepositoryListSinceOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	now := time.Date(2024, time.September, 30, 0, 0, 0, 0, time.UTC)

	for id, startedAt := range map[string]time.Time{
		"recent": now.Add(-time.Hour),
		"older":  now.AddDate(0, 0, -10),
		"stale":  now.AddDate(0, 0, -50),
	} {
		require.NoError(t, repo.Create(ctx, domain.Activity{ID: id, TenantID: "t-1", UserID: "u-1", StartedAt: startedAt}, ""))
	}

	got, err := repo.ListSince(ctx, "t-1", "u-1", now.AddDate(0, 0, -42))
	require.NoError(t, err)
	require.Equal(t, []string{"older", "recent"}, ids(got))
}

func ids(activities []domain.Activity) []string {
	out := make([]string, 0, len(activities))
	for _, a := range activities {
		out = append(out, a.ID)
	}
	return out
}
