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
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// DeletionType values recorded in the details of "deleted" audit entries.
const (
	DeletionTypeImmediate = "immediate"
	DeletionTypeRetention = "retention_expired"
	DeletionTypeScheduled = "scheduled_erasure"
)

// SessionConfig carries the creation-time lifecycle parameters.
type SessionConfig struct {
	TTL             time.Duration
	AIRequestsLimit int
}

// CreateOptions customizes a new session at creation time. The zero value
// produces a first-time guest with no fingerprint.
type CreateOptions struct {
	IPAddressHash        []byte
	UserAgentFingerprint []byte
	IsReturningGuest     bool
	UserProfile          map[string]any
	CommunicationStyle   string
}

// SessionService is the source of truth for guest session records. Every
// mutation appends exactly one audit entry; if the entry cannot be written
// the mutation is rolled back and the operation fails.
type SessionService interface {
	// Create allocates a new session with all privacy fields at defaults.
	Create(ctx context.Context) (*models.GuestSession, error)

	// CreateWith allocates a new session with recognition results applied.
	CreateWith(ctx context.Context, opts CreateOptions) (*models.GuestSession, error)

	// Get returns the session or apperrors.ErrNotFound. Reading never
	// mutates state and emits no audit entry.
	Get(ctx context.Context, id uuid.UUID) (*models.GuestSession, error)

	// Update replaces the full record. Callers read, mutate a local copy,
	// then commit it here; concurrent updates are last-writer-wins.
	Update(ctx context.Context, session *models.GuestSession) (*models.GuestSession, error)

	// Delete removes the session immediately. Returns true if a record
	// existed; deleting an already-gone id returns false without error.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// DeleteAs removes the session recording the given deletion type in the
	// audit details. Used by the lifecycle sweep.
	DeleteAs(ctx context.Context, id uuid.UUID, deletionType string) (bool, error)

	// LogDataAccess records a "data_accessed" audit entry carrying only the
	// pseudonymized caller IP.
	LogDataAccess(ctx context.Context, id uuid.UUID, rawIP string) error

	// AuditTrail returns all audit entries for a session, including after
	// the session itself has been deleted.
	AuditTrail(ctx context.Context, id uuid.UUID) ([]*models.AuditLogEntry, error)
}

type sessionService struct {
	repo   repositories.SessionRepository
	audit  AuditLogger
	hasher *pseudonym.Engine
	cfg    SessionConfig
	clk    clock.Clock
	logger *zap.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(
	repo repositories.SessionRepository,
	audit AuditLogger,
	hasher *pseudonym.Engine,
	cfg SessionConfig,
	clk clock.Clock,
	logger *zap.Logger,
) SessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = models.DefaultSessionTTL
	}
	if cfg.AIRequestsLimit <= 0 {
		cfg.AIRequestsLimit = models.DefaultAIRequestsLimit
	}
	return &sessionService{
		repo:   repo,
		audit:  audit,
		hasher: hasher,
		cfg:    cfg,
		clk:    clk,
		logger: logger.Named("session-service"),
	}
}

var _ SessionService = (*sessionService)(nil)

func (s *sessionService) Create(ctx context.Context) (*models.GuestSession, error) {
	return s.CreateWith(ctx, CreateOptions{})
}

func (s *sessionService) CreateWith(ctx context.Context, opts CreateOptions) (*models.GuestSession, error) {
	now := s.clk.Now().UTC()
	session := models.NewGuestSession(now, s.cfg.TTL, s.cfg.AIRequestsLimit)
	session.IPAddressHash = opts.IPAddressHash
	session.UserAgentFingerprint = opts.UserAgentFingerprint
	session.IsReturningGuest = opts.IsReturningGuest
	session.CommunicationStyle = opts.CommunicationStyle
	for k, v := range opts.UserProfile {
		session.UserProfile[k] = v
	}

	if err := s.repo.Create(ctx, session); err != nil {
		s.logger.Error("Failed to create guest session", zap.Error(err))
		return nil, fmt.Errorf("create guest session: %w", err)
	}

	details := map[string]any{"is_returning_guest": session.IsReturningGuest}
	if _, err := s.audit.Append(ctx, session.ID, models.AuditActionCreated, details,
		session.IPAddressHash, session.UserAgentFingerprint); err != nil {
		// Unaudited sessions must not exist; undo the insert.
		if _, delErr := s.repo.Delete(ctx, session.ID); delErr != nil {
			s.logger.Error("Failed to roll back unaudited session create",
				zap.String("session_id", session.ID.String()),
				zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Debug("Guest session created",
		zap.String("session_id", session.ID.String()),
		zap.Bool("is_returning_guest", session.IsReturningGuest),
		zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, id uuid.UUID) (*models.GuestSession, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get guest session: %w", err)
	}
	return session, nil
}

func (s *sessionService) Update(ctx context.Context, session *models.GuestSession) (*models.GuestSession, error) {
	prev, err := s.repo.Get(ctx, session.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("update guest session %s: %w", session.ID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("update guest session: %w", err)
	}

	updated := session.Clone()
	updated.UpdatedAt = s.clk.Now().UTC()

	if err := s.repo.Update(ctx, updated); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("update guest session %s: %w", session.ID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("update guest session: %w", err)
	}

	if _, err := s.audit.Append(ctx, updated.ID, models.AuditActionUpdated, nil,
		updated.IPAddressHash, updated.UserAgentFingerprint); err != nil {
		s.restore(ctx, prev)
		return nil, err
	}

	return updated, nil
}

func (s *sessionService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.DeleteAs(ctx, id, DeletionTypeImmediate)
}

func (s *sessionService) DeleteAs(ctx context.Context, id uuid.UUID, deletionType string) (bool, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete guest session: %w", err)
	}

	// The audit entry goes in before physical removal so the processing
	// record exists even if removal itself fails.
	details := map[string]any{"deletion_type": deletionType}
	if _, err := s.audit.Append(ctx, id, models.AuditActionDeleted, details,
		session.IPAddressHash, session.UserAgentFingerprint); err != nil {
		return false, err
	}

	existed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete guest session: %w", err)
	}

	s.logger.Info("Guest session deleted",
		zap.String("session_id", id.String()),
		zap.String("deletion_type", deletionType))
	return existed, nil
}

func (s *sessionService) LogDataAccess(ctx context.Context, id uuid.UUID, rawIP string) error {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("log data access for %s: %w", id, apperrors.ErrNotFound)
		}
		return fmt.Errorf("log data access: %w", err)
	}

	ipHash := s.hasher.Hash(rawIP)
	_, err = s.audit.Append(ctx, session.ID, models.AuditActionDataAccessed, nil,
		ipHash, session.UserAgentFingerprint)
	return err
}

func (s *sessionService) AuditTrail(ctx context.Context, id uuid.UUID) ([]*models.AuditLogEntry, error) {
	return s.audit.EntriesFor(ctx, id)
}

// restore puts a previous record back after a failed audit append.
// Best-effort: if the restore itself fails there is nothing left to do but
// log it loudly.
func (s *sessionService) restore(ctx context.Context, prev *models.GuestSession) {
	if err := s.repo.Update(ctx, prev); err != nil {
		s.logger.Error("Failed to roll back unaudited session update",
			zap.String("session_id", prev.ID.String()),
			zap.Error(err))
	}
}
