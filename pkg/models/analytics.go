package models

import "github.com/google/uuid"

// SessionAnalytics is the anonymized per-session export row. It carries only
// counts and the opaque session id; no pseudonymized or raw identifiers.
type SessionAnalytics struct {
	SessionID       uuid.UUID `json:"session_id"`
	FeaturesCount   int       `json:"features_count"`
	AIRequestsCount int       `json:"ai_requests_count"`
	DurationSeconds int64     `json:"duration_seconds"`
	ConversionScore int       `json:"conversion_score"`
}

// FunnelStats buckets sessions by feature breadth: low 0-1, medium 2-3,
// high 4+. Percentages are 0 when Total is 0.
type FunnelStats struct {
	LowCount    int     `json:"low_count"`
	MediumCount int     `json:"medium_count"`
	HighCount   int     `json:"high_count"`
	Total       int     `json:"total"`
	LowPct      float64 `json:"low_pct"`
	MediumPct   float64 `json:"medium_pct"`
	HighPct     float64 `json:"high_pct"`
}
