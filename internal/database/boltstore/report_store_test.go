package boltstore

import (
	"context"
	"testing"
	"time"

	"vigil/internal/pipeline"
	"vigil/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStore(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t).ReportStore()
	base := time.Now().UTC()

	t.Run("create and get", func(t *testing.T) {
		report := &pipeline.Report{
			ID:          "rep-1",
			ContentID:   "content-1",
			ReporterID:  "user-2",
			Category:    pipeline.ReportCategorySpam,
			Description: "unsolicited ads",
			SubmittedAt: base,
		}
		require.NoError(t, store.Create(ctx, report))

		got, err := store.Get(ctx, "rep-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, pipeline.ReportCategorySpam, got.Category)
		assert.Equal(t, "user-2", got.ReporterID)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		got, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("has reported", func(t *testing.T) {
		found, err := store.HasReported(ctx, "user-2", "content-1")
		require.NoError(t, err)
		assert.True(t, found)

		found, err = store.HasReported(ctx, "user-3", "content-1")
		require.NoError(t, err)
		assert.False(t, found)

		found, err = store.HasReported(ctx, "user-2", "content-other")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("list by content", func(t *testing.T) {
		second := &pipeline.Report{
			ID:          "rep-2",
			ContentID:   "content-1",
			ReporterID:  "user-3",
			Category:    pipeline.ReportCategoryHarassment,
			SubmittedAt: base.Add(time.Second),
		}
		require.NoError(t, store.Create(ctx, second))

		reports, err := store.ListByContent(ctx, "content-1")
		require.NoError(t, err)
		assert.Len(t, reports, 2)

		reports, err = store.ListByContent(ctx, "content-none")
		require.NoError(t, err)
		assert.Empty(t, reports)
	})

	t.Run("list recent newest first", func(t *testing.T) {
		reports, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, "rep-2", reports[0].ID)
		assert.Equal(t, "rep-1", reports[1].ID)

		reports, err = store.ListRecent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, "rep-2", reports[0].ID)
	})
}

func TestRateLimitStore(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t).RateLimitStore()

	cfg := ratelimit.Config{Limit: 2, Window: time.Hour}
	key := ratelimit.Key{UserID: "user-1", Action: ratelimit.ActionImageUpload}
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	t.Run("admits up to limit then rejects", func(t *testing.T) {
		for i := 1; i <= 2; i++ {
			win, ok, err := store.Admit(ctx, key, cfg, now)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, i, win.Count)
		}

		win, ok, err := store.Admit(ctx, key, cfg, now)
		require.NoError(t, err)
		assert.False(t, ok)
		// Rejected actions are not counted.
		assert.Equal(t, 2, win.Count)
	})

	t.Run("peek does not mutate", func(t *testing.T) {
		win, err := store.Peek(ctx, key, cfg, now)
		require.NoError(t, err)
		assert.Equal(t, 2, win.Count)

		win, err = store.Peek(ctx, key, cfg, now)
		require.NoError(t, err)
		assert.Equal(t, 2, win.Count)
	})

	t.Run("expired window resets", func(t *testing.T) {
		later := now.Add(2 * time.Hour)

		win, err := store.Peek(ctx, key, cfg, later)
		require.NoError(t, err)
		assert.Equal(t, 0, win.Count)

		win, ok, err := store.Admit(ctx, key, cfg, later)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, win.Count)
	})

	t.Run("keys are independent", func(t *testing.T) {
		other := ratelimit.Key{UserID: "user-2", Action: ratelimit.ActionImageUpload}
		win, ok, err := store.Admit(ctx, other, cfg, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, win.Count)
	})

	t.Run("sweep removes stale windows", func(t *testing.T) {
		removed, err := store.Sweep(ctx, now.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Greater(t, removed, 0)

		win, err := store.Peek(ctx, key, cfg, now)
		require.NoError(t, err)
		assert.Equal(t, 0, win.Count)
	})
}
