package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// ReturningGuestRecognizer matches a new visitor against prior sessions by
// pseudonymized fingerprint. Raw IP and user-agent strings only ever exist
// on the stack here; nothing unhashed is stored or logged.
type ReturningGuestRecognizer interface {
	// FindOrCreate always creates a fresh session with a fresh id and TTL.
	// If a prior session's fingerprint pair matches both hashes exactly,
	// the new session is marked returning and inherits the prior session's
	// profile and communication style. Continuity is at the preference
	// level only, never at the session-identity level.
	FindOrCreate(ctx context.Context, rawIP, rawUserAgent string) (*models.GuestSession, error)
}

type returningGuestRecognizer struct {
	repo     repositories.SessionRepository
	sessions SessionService
	hasher   *pseudonym.Engine
	logger   *zap.Logger
}

// NewReturningGuestRecognizer creates a ReturningGuestRecognizer.
func NewReturningGuestRecognizer(
	repo repositories.SessionRepository,
	sessions SessionService,
	hasher *pseudonym.Engine,
	logger *zap.Logger,
) ReturningGuestRecognizer {
	return &returningGuestRecognizer{
		repo:     repo,
		sessions: sessions,
		hasher:   hasher,
		logger:   logger.Named("guest-recognizer"),
	}
}

var _ ReturningGuestRecognizer = (*returningGuestRecognizer)(nil)

func (r *returningGuestRecognizer) FindOrCreate(ctx context.Context, rawIP, rawUserAgent string) (*models.GuestSession, error) {
	ipHash, uaHash := r.hasher.Fingerprint(rawIP, rawUserAgent)

	opts := CreateOptions{
		IPAddressHash:        ipHash,
		UserAgentFingerprint: uaHash,
	}

	prior, err := r.repo.FindByFingerprint(ctx, ipHash, uaHash)
	switch {
	case err == nil:
		opts.IsReturningGuest = true
		opts.UserProfile = prior.UserProfile
		opts.CommunicationStyle = prior.CommunicationStyle
		r.logger.Debug("Recognized returning guest",
			zap.String("prior_session_id", prior.ID.String()))
	case errors.Is(err, apperrors.ErrNotFound):
		// First visit with this fingerprint pair. The hashes are stored on
		// the new session immediately so a future visit can match it.
	default:
		return nil, fmt.Errorf("fingerprint lookup: %w", err)
	}

	return r.sessions.CreateWith(ctx, opts)
}
