package services

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// AuditLogger records every guest session state transition in the
// append-only processing log. A failed append is fatal for the enclosing
// mutation: compliance requires the record, so callers must abort rather
// than continue unaudited.
type AuditLogger interface {
	// Append stores one entry for the given action. The checksum is
	// computed here; the repository assigns the monotonic id.
	Append(ctx context.Context, sessionID uuid.UUID, action string, details map[string]any, ipHash, uaHash []byte) (*models.AuditLogEntry, error)

	// EntriesFor returns the full trail for a session in insertion order.
	// Entries survive deletion of the session itself.
	EntriesFor(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error)

	// Verify recomputes an entry's checksum against the shared salt.
	Verify(entry *models.AuditLogEntry) bool

	// VerifyTrail checks every entry for a session and returns false if any
	// entry fails checksum verification.
	VerifyTrail(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type auditLogger struct {
	repo   repositories.AuditRepository
	salt   []byte
	clk    clock.Clock
	logger *zap.Logger
}

// NewAuditLogger creates an AuditLogger. The salt is the process-wide
// secret shared with the pseudonymization engine.
func NewAuditLogger(repo repositories.AuditRepository, salt []byte, clk clock.Clock, logger *zap.Logger) AuditLogger {
	return &auditLogger{
		repo:   repo,
		salt:   salt,
		clk:    clk,
		logger: logger.Named("audit-logger"),
	}
}

var _ AuditLogger = (*auditLogger)(nil)

func (l *auditLogger) Append(ctx context.Context, sessionID uuid.UUID, action string, details map[string]any, ipHash, uaHash []byte) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		GuestSessionID:       sessionID,
		Action:               action,
		Details:              details,
		IPAddressHash:        ipHash,
		UserAgentFingerprint: uaHash,
		CreatedAt:            l.clk.Now().UTC(),
	}
	entry.Checksum = entry.ComputeChecksum(l.salt)

	if err := l.repo.Append(ctx, entry); err != nil {
		l.logger.Error("Failed to append audit log entry",
			zap.String("session_id", sessionID.String()),
			zap.String("action", action),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrAuditWrite, action, err)
	}

	return entry, nil
}

func (l *auditLogger) EntriesFor(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error) {
	entries, err := l.repo.ListBySession(ctx, sessionID)
	if err != nil {
		l.logger.Error("Failed to list audit log entries",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("list audit log entries: %w", err)
	}
	return entries, nil
}

func (l *auditLogger) Verify(entry *models.AuditLogEntry) bool {
	return entry.VerifyChecksum(l.salt)
}

func (l *auditLogger) VerifyTrail(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	entries, err := l.EntriesFor(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if !entry.VerifyChecksum(l.salt) {
			l.logger.Warn("Audit entry failed checksum verification",
				zap.String("session_id", sessionID.String()),
				zap.Int64("entry_id", entry.ID),
				zap.String("action", entry.Action))
			return false, nil
		}
	}
	return true, nil
}
