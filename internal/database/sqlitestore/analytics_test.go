package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAnalytics(t *testing.T) *Analytics {
	dbPath := filepath.Join(t.TempDir(), "analytics.db")

	a, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		a.Close()
	})

	return a
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	a := setupTestAnalytics(t)
	now := time.Now().UTC()

	t.Run("empty stats", func(t *testing.T) {
		stats, err := a.Stats(ctx)
		require.NoError(t, err)
		assert.Empty(t, stats.DecisionsByOutcome)
		assert.Zero(t, stats.DecisionsLast24h)
	})

	t.Run("decisions aggregate by outcome and reason", func(t *testing.T) {
		decisions := []pipeline.Decision{
			{ID: "d-1", ContentID: "c-1", Outcome: pipeline.OutcomeAllow, ReasonCode: pipeline.ReasonClean, DecidedAt: now},
			{ID: "d-2", ContentID: "c-2", Outcome: pipeline.OutcomeAllow, ReasonCode: pipeline.ReasonClean, DecidedAt: now},
			{ID: "d-3", ContentID: "c-3", Outcome: pipeline.OutcomeBlock, ReasonCode: pipeline.ReasonBlocklistMatch, DecidedAt: now},
			{ID: "d-4", ContentID: "c-4", Outcome: pipeline.OutcomeBlock, ReasonCode: pipeline.ReasonSafeSearch, DecidedAt: now.Add(-48 * time.Hour)},
		}
		for i := range decisions {
			require.NoError(t, a.RecordDecision(ctx, &decisions[i]))
		}

		stats, err := a.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.DecisionsByOutcome["allow"])
		assert.Equal(t, 2, stats.DecisionsByOutcome["block"])
		assert.Equal(t, 2, stats.DecisionsByReasonCode[pipeline.ReasonClean])
		assert.Equal(t, 1, stats.DecisionsByReasonCode[pipeline.ReasonBlocklistMatch])
		assert.Equal(t, 3, stats.DecisionsLast24h)
	})

	t.Run("replaying a decision is idempotent", func(t *testing.T) {
		d := pipeline.Decision{ID: "d-1", ContentID: "c-1", Outcome: pipeline.OutcomeAllow, ReasonCode: pipeline.ReasonClean, DecidedAt: now}
		require.NoError(t, a.RecordDecision(ctx, &d))

		stats, err := a.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.DecisionsByOutcome["allow"])
	})

	t.Run("reports aggregate by category", func(t *testing.T) {
		reports := []pipeline.Report{
			{ID: "r-1", ContentID: "c-1", ReporterID: "u-1", Category: pipeline.ReportCategorySpam, SubmittedAt: now},
			{ID: "r-2", ContentID: "c-1", ReporterID: "u-2", Category: pipeline.ReportCategorySpam, SubmittedAt: now},
			{ID: "r-3", ContentID: "c-2", ReporterID: "u-1", Category: pipeline.ReportCategoryOther, SubmittedAt: now},
		}
		for i := range reports {
			require.NoError(t, a.RecordReport(ctx, &reports[i]))
		}

		stats, err := a.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.ReportsByCategory["spam"])
		assert.Equal(t, 1, stats.ReportsByCategory["other"])
	})
}
