package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// Conversion scoring constants. Feature breadth is the primary engagement
// signal; heavy AI usage adds a flat bonus; the cap keeps scores comparable
// across cohorts.
const (
	maxConversionScore      = 10
	pointsPerFeature        = 2
	aiHeavyUsageThreshold   = 5
	aiHeavyUsageBonus       = 1
	funnelLowMaxFeatures    = 1
	funnelMediumMaxFeatures = 3
)

// AnalyticsExporter computes anonymized conversion analytics. It is strictly
// read-only: it never mutates sessions and never emits audit entries, and
// its output carries no raw or pseudonymized identifiers.
type AnalyticsExporter interface {
	// ExportRange returns one analytics row per session created in
	// [start, end).
	ExportRange(ctx context.Context, start, end time.Time) ([]models.SessionAnalytics, error)

	// FunnelStats buckets the given rows by feature breadth.
	FunnelStats(rows []models.SessionAnalytics) models.FunnelStats

	// ConversionFunnelStats computes funnel stats across all stored sessions.
	ConversionFunnelStats(ctx context.Context) (models.FunnelStats, error)
}

type analyticsExporter struct {
	repo   repositories.SessionRepository
	logger *zap.Logger
}

// NewAnalyticsExporter creates an AnalyticsExporter.
func NewAnalyticsExporter(repo repositories.SessionRepository, logger *zap.Logger) AnalyticsExporter {
	return &analyticsExporter{
		repo:   repo,
		logger: logger.Named("analytics-exporter"),
	}
}

var _ AnalyticsExporter = (*analyticsExporter)(nil)

// ConversionScore computes the bounded engagement score:
// min(10, features*2 + 1 if AI usage is heavy).
func ConversionScore(featuresCount, aiRequestsCount int) int {
	score := featuresCount * pointsPerFeature
	if aiRequestsCount > aiHeavyUsageThreshold {
		score += aiHeavyUsageBonus
	}
	if score > maxConversionScore {
		return maxConversionScore
	}
	return score
}

func (e *analyticsExporter) ExportRange(ctx context.Context, start, end time.Time) ([]models.SessionAnalytics, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: export range end precedes start", apperrors.ErrValidation)
	}

	sessions, err := e.repo.ListCreatedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list sessions for export: %w", err)
	}

	rows := make([]models.SessionAnalytics, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, toAnalytics(s))
	}
	return rows, nil
}

func (e *analyticsExporter) FunnelStats(rows []models.SessionAnalytics) models.FunnelStats {
	stats := models.FunnelStats{Total: len(rows)}
	for _, row := range rows {
		switch {
		case row.FeaturesCount <= funnelLowMaxFeatures:
			stats.LowCount++
		case row.FeaturesCount <= funnelMediumMaxFeatures:
			stats.MediumCount++
		default:
			stats.HighCount++
		}
	}
	if stats.Total > 0 {
		total := float64(stats.Total)
		stats.LowPct = float64(stats.LowCount) / total * 100
		stats.MediumPct = float64(stats.MediumCount) / total * 100
		stats.HighPct = float64(stats.HighCount) / total * 100
	}
	return stats
}

func (e *analyticsExporter) ConversionFunnelStats(ctx context.Context) (models.FunnelStats, error) {
	sessions, err := e.repo.ListAll(ctx)
	if err != nil {
		return models.FunnelStats{}, fmt.Errorf("list sessions for funnel stats: %w", err)
	}

	rows := make([]models.SessionAnalytics, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, toAnalytics(s))
	}
	return e.FunnelStats(rows), nil
}

func toAnalytics(s *models.GuestSession) models.SessionAnalytics {
	return models.SessionAnalytics{
		SessionID:       s.ID,
		FeaturesCount:   len(s.FeaturesViewed),
		AIRequestsCount: s.AIRequestsCount,
		DurationSeconds: int64(s.UpdatedAt.Sub(s.CreatedAt).Seconds()),
		ConversionScore: ConversionScore(len(s.FeaturesViewed), s.AIRequestsCount),
	}
}
