package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
)

// funnelRows builds analytics rows with the given feature counts.
func funnelRows(featureCounts ...int) []models.SessionAnalytics {
	rows := make([]models.SessionAnalytics, 0, len(featureCounts))
	for _, n := range featureCounts {
		rows = append(rows, models.SessionAnalytics{FeaturesCount: n})
	}
	return rows
}

func TestConversionScore(t *testing.T) {
	tests := []struct {
		name      string
		features  int
		aiCount   int
		wantScore int
	}{
		{"no activity", 0, 0, 0},
		{"one feature", 1, 0, 2},
		{"ai usage at threshold earns no bonus", 0, 5, 0},
		{"ai usage above threshold earns bonus", 0, 6, 1},
		{"features plus bonus", 3, 6, 7},
		{"capped at maximum", 5, 6, 10},
		{"far past the cap", 20, 100, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantScore, ConversionScore(tt.features, tt.aiCount))
		})
	}
}

func TestAnalyticsExporter_ExportRange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.engine.Sessions.Create(ctx)
	require.NoError(t, err)

	env.clk.Add(10 * time.Minute)
	session.MarkFeatureViewed("ai_tutor")
	session.MarkFeatureViewed("labs")
	session.AIRequestsCount = 7
	_, err = env.engine.Sessions.Update(ctx, session)
	require.NoError(t, err)

	// Outside the window.
	env.clk.Set(testStart.Add(24 * time.Hour))
	_, err = env.engine.Sessions.Create(ctx)
	require.NoError(t, err)

	rows, err := env.engine.Analytics.ExportRange(ctx, testStart, testStart.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, session.ID, row.SessionID)
	assert.Equal(t, 2, row.FeaturesCount)
	assert.Equal(t, 7, row.AIRequestsCount)
	assert.Equal(t, int64(600), row.DurationSeconds)
	assert.Equal(t, 5, row.ConversionScore)
}

func TestAnalyticsExporter_ExportRangeValidatesWindow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Analytics.ExportRange(context.Background(),
		testStart, testStart.Add(-time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAnalyticsExporter_FunnelStats(t *testing.T) {
	env := newTestEnv(t)

	rows, err := env.engine.Analytics.ExportRange(context.Background(), testStart, testStart.Add(time.Hour))
	require.NoError(t, err)
	empty := env.engine.Analytics.FunnelStats(rows)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.LowPct, "no division by zero on an empty window")

	stats := env.engine.Analytics.FunnelStats(funnelRows(0, 1, 2, 3, 4, 9))
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 2, stats.LowCount)
	assert.Equal(t, 2, stats.MediumCount)
	assert.Equal(t, 2, stats.HighCount)
	assert.InDelta(t, 33.33, stats.LowPct, 0.01)
	assert.InDelta(t, 33.33, stats.MediumPct, 0.01)
	assert.InDelta(t, 33.33, stats.HighPct, 0.01)
}

func TestAnalyticsExporter_ConversionFunnelStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	browser, err := env.engine.Sessions.Create(ctx)
	require.NoError(t, err)
	browser.MarkFeatureViewed("course_preview")
	_, err = env.engine.Sessions.Update(ctx, browser)
	require.NoError(t, err)

	engaged, err := env.engine.Sessions.Create(ctx)
	require.NoError(t, err)
	for _, f := range []string{"course_preview", "ai_tutor", "labs", "pricing"} {
		engaged.MarkFeatureViewed(f)
	}
	_, err = env.engine.Sessions.Update(ctx, engaged)
	require.NoError(t, err)

	stats, err := env.engine.Analytics.ConversionFunnelStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.LowCount)
	assert.Equal(t, 0, stats.MediumCount)
	assert.Equal(t, 1, stats.HighCount)
	assert.InDelta(t, 50.0, stats.LowPct, 0.01)
	assert.InDelta(t, 50.0, stats.HighPct, 0.01)
}

func TestAnalyticsExporter_OutputCarriesNoIdentifiers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.engine.Recognizer.FindOrCreate(ctx, "203.0.113.5", "TestAgent/1.0")
	require.NoError(t, err)

	rows, err := env.engine.Analytics.ExportRange(ctx, testStart, testStart.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The analytics row is counts and a score keyed by the random session
	// id; fingerprint hashes and profile data never leave the store.
	assert.Equal(t, session.ID, rows[0].SessionID)
	assert.Zero(t, rows[0].FeaturesCount)
	assert.Zero(t, rows[0].AIRequestsCount)
}
