package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// DeletionLifecycleManager implements right-to-erasure and storage
// limitation. An erasure request opens a grace period during which the user
// may rescind; the sweep enforces both scheduled erasure and the retention
// cutoff on a recurring timer.
type DeletionLifecycleManager interface {
	// RequestDeletion stamps the request and schedules execution after the
	// grace period. The session stays retrievable until then. Returns the
	// scheduled execution time.
	RequestDeletion(ctx context.Context, sessionID uuid.UUID, reason string) (time.Time, error)

	// ExecuteDeletion deletes immediately, bypassing the grace period.
	// Administrative override and test hook.
	ExecuteDeletion(ctx context.Context, sessionID uuid.UUID) (bool, error)

	// Sweep removes sessions past the retention cutoff and sessions whose
	// scheduled deletion date has arrived. Returns the number removed.
	// retentionDays < 0 is apperrors.ErrValidation; 0 means the default.
	// The scan checks ctx between sessions so shutdown is not blocked.
	Sweep(ctx context.Context, retentionDays int) (int, error)

	// RunScheduler starts a background goroutine sweeping on the given
	// interval. It sweeps immediately on startup, then on each tick.
	// Cancel the context to stop it.
	RunScheduler(ctx context.Context, interval time.Duration, retentionDays int)
}

type deletionLifecycleManager struct {
	repo      repositories.SessionRepository
	sessions  SessionService
	audit     AuditLogger
	graceDays int
	clk       clock.Clock
	logger    *zap.Logger
}

// NewDeletionLifecycleManager creates a DeletionLifecycleManager.
// graceDays <= 0 falls back to the 30-day default.
func NewDeletionLifecycleManager(
	repo repositories.SessionRepository,
	sessions SessionService,
	audit AuditLogger,
	graceDays int,
	clk clock.Clock,
	logger *zap.Logger,
) DeletionLifecycleManager {
	if graceDays <= 0 {
		graceDays = models.DefaultDeletionGraceDays
	}
	return &deletionLifecycleManager{
		repo:      repo,
		sessions:  sessions,
		audit:     audit,
		graceDays: graceDays,
		clk:       clk,
		logger:    logger.Named("deletion-lifecycle"),
	}
}

var _ DeletionLifecycleManager = (*deletionLifecycleManager)(nil)

func (m *deletionLifecycleManager) RequestDeletion(ctx context.Context, sessionID uuid.UUID, reason string) (time.Time, error) {
	session, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return time.Time{}, fmt.Errorf("request deletion for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("request deletion: %w", err)
	}
	prev := session.Clone()

	now := m.clk.Now().UTC()
	requested := now
	scheduled := now.AddDate(0, 0, m.graceDays)
	session.DeletionRequestedAt = &requested
	session.DeletionScheduledAt = &scheduled
	session.UpdatedAt = now

	if err := m.repo.Update(ctx, session); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return time.Time{}, fmt.Errorf("request deletion for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("request deletion: %w", err)
	}

	details := map[string]any{
		"reason":       reason,
		"scheduled_at": scheduled.Format(time.RFC3339),
	}
	if _, err := m.audit.Append(ctx, sessionID, models.AuditActionDeletionRequested, details,
		session.IPAddressHash, session.UserAgentFingerprint); err != nil {
		if restoreErr := m.repo.Update(ctx, prev); restoreErr != nil {
			m.logger.Error("Failed to roll back unaudited deletion request",
				zap.String("session_id", sessionID.String()),
				zap.Error(restoreErr))
		}
		return time.Time{}, err
	}

	m.logger.Info("Deletion requested",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
		zap.Time("scheduled_at", scheduled))
	return scheduled, nil
}

func (m *deletionLifecycleManager) ExecuteDeletion(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return m.sessions.Delete(ctx, sessionID)
}

func (m *deletionLifecycleManager) Sweep(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("%w: retention days must not be negative", apperrors.ErrValidation)
	}
	if retentionDays == 0 {
		retentionDays = models.DefaultRetentionDays
	}

	now := m.clk.Now().UTC()
	retentionCutoff := now.AddDate(0, 0, -retentionDays)

	expired, err := m.repo.ScanExpired(ctx, retentionCutoff)
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}
	scheduled, err := m.repo.ScanScheduledForDeletion(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scan scheduled deletions: %w", err)
	}

	types := make(map[uuid.UUID]string, len(expired)+len(scheduled))
	order := make([]uuid.UUID, 0, len(expired)+len(scheduled))
	for _, id := range expired {
		types[id] = DeletionTypeRetention
		order = append(order, id)
	}
	for _, id := range scheduled {
		if _, seen := types[id]; !seen {
			order = append(order, id)
		}
		// Scheduled erasure wins when a session qualifies both ways: the
		// audit trail should show the user-requested path.
		types[id] = DeletionTypeScheduled
	}

	removed := 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		existed, err := m.sessions.DeleteAs(ctx, id, types[id])
		if err != nil {
			m.logger.Error("Sweep failed to delete session",
				zap.String("session_id", id.String()),
				zap.Error(err))
			return removed, err
		}
		if existed {
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("Lifecycle sweep completed",
			zap.Int("removed", removed),
			zap.Int("retention_days", retentionDays))
	}
	return removed, nil
}

func (m *deletionLifecycleManager) RunScheduler(ctx context.Context, interval time.Duration, retentionDays int) {
	go func() {
		m.logger.Info("Lifecycle sweep scheduler started",
			zap.Duration("interval", interval),
			zap.Int("retention_days", retentionDays))

		// Run immediately on startup, then at each interval.
		if _, err := m.Sweep(ctx, retentionDays); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("Lifecycle sweep failed", zap.Error(err))
		}

		ticker := m.clk.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Lifecycle sweep scheduler stopped")
				return
			case <-ticker.C:
				if _, err := m.Sweep(ctx, retentionDays); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Error("Lifecycle sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
