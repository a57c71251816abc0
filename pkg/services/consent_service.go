package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

// ConsentInput is everything a consent event carries. RawIP and
// RawUserAgent are pseudonymized before anything is persisted.
type ConsentInput struct {
	Given                bool
	PrivacyPolicyVersion string
	CookiePolicyVersion  string
	CookiePreferences    map[string]bool
	ConsentMethod        string
	RawIP                string
	RawUserAgent         string
}

// ConsentManager records and withdraws consent. Every RecordConsent call
// creates a new ConsentRecord; re-consenting never mutates history.
type ConsentManager interface {
	// RecordConsent stamps consent state onto the session, persists a new
	// versioned ConsentRecord and audits the event. Fails with
	// apperrors.ErrValidation on an empty privacy policy version and
	// apperrors.ErrNotFound for an unknown session.
	RecordConsent(ctx context.Context, sessionID uuid.UUID, input ConsentInput) error

	// WithdrawConsent clears the session's consent flag and stamps
	// withdrawn_at on the most recent consent record.
	WithdrawConsent(ctx context.Context, sessionID uuid.UUID) error

	// History returns all consent records for a session, oldest first.
	History(ctx context.Context, sessionID uuid.UUID) ([]*models.ConsentRecord, error)
}

type consentManager struct {
	sessions repositories.SessionRepository
	consents repositories.ConsentRepository
	audit    AuditLogger
	hasher   *pseudonym.Engine
	clk      clock.Clock
	logger   *zap.Logger
}

// NewConsentManager creates a ConsentManager.
func NewConsentManager(
	sessions repositories.SessionRepository,
	consents repositories.ConsentRepository,
	audit AuditLogger,
	hasher *pseudonym.Engine,
	clk clock.Clock,
	logger *zap.Logger,
) ConsentManager {
	return &consentManager{
		sessions: sessions,
		consents: consents,
		audit:    audit,
		hasher:   hasher,
		clk:      clk,
		logger:   logger.Named("consent-manager"),
	}
}

var _ ConsentManager = (*consentManager)(nil)

func (m *consentManager) RecordConsent(ctx context.Context, sessionID uuid.UUID, input ConsentInput) error {
	if input.PrivacyPolicyVersion == "" {
		return fmt.Errorf("%w: privacy policy version is required", apperrors.ErrValidation)
	}
	if input.CookiePolicyVersion == "" {
		input.CookiePolicyVersion = input.PrivacyPolicyVersion
	}
	if input.ConsentMethod == "" {
		input.ConsentMethod = models.ConsentMethodBannerClick
	}

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("record consent for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("record consent: %w", err)
	}
	prev := session.Clone()

	now := m.clk.Now().UTC()
	ipHash, uaHash := m.hasher.Fingerprint(input.RawIP, input.RawUserAgent)

	session.ConsentGiven = input.Given
	ts := now
	session.ConsentTimestamp = &ts
	privacyVersion := input.PrivacyPolicyVersion
	session.PrivacyPolicyVersion = &privacyVersion
	cookieVersion := input.CookiePolicyVersion
	session.CookiePolicyVersion = &cookieVersion
	session.CookiePreferences = make(map[string]bool, len(input.CookiePreferences))
	for k, v := range input.CookiePreferences {
		session.CookiePreferences[k] = v
	}
	session.IPAddressHash = ipHash
	session.UserAgentFingerprint = uaHash
	session.UpdatedAt = now

	if err := m.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("record consent for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("record consent: %w", err)
	}

	record := &models.ConsentRecord{
		ID:                   uuid.New(),
		GuestSessionID:       sessionID,
		ConsentTimestamp:     now,
		PrivacyPolicyVersion: input.PrivacyPolicyVersion,
		CookiePolicyVersion:  input.CookiePolicyVersion,
		FunctionalCookies:    input.CookiePreferences[models.CookieCategoryFunctional],
		AnalyticsCookies:     input.CookiePreferences[models.CookieCategoryAnalytics],
		MarketingCookies:     input.CookiePreferences[models.CookieCategoryMarketing],
		ConsentMethod:        input.ConsentMethod,
	}
	if err := m.consents.Create(ctx, record); err != nil {
		m.restore(ctx, prev)
		return fmt.Errorf("create consent record: %w", err)
	}

	details := map[string]any{
		"privacy_policy_version": input.PrivacyPolicyVersion,
		"cookie_policy_version":  input.CookiePolicyVersion,
		"consent_method":         input.ConsentMethod,
	}
	if _, err := m.audit.Append(ctx, sessionID, models.AuditActionConsentGiven, details, ipHash, uaHash); err != nil {
		// The unaudited consent record must not survive either; a persisted
		// record claiming consent with no processing entry is a partial
		// success, and those are forbidden here.
		if delErr := m.consents.Delete(ctx, record.ID); delErr != nil {
			m.logger.Error("Failed to remove unaudited consent record",
				zap.String("session_id", sessionID.String()),
				zap.String("record_id", record.ID.String()),
				zap.Error(delErr))
		}
		m.restore(ctx, prev)
		return err
	}

	m.logger.Info("Consent recorded",
		zap.String("session_id", sessionID.String()),
		zap.String("privacy_policy_version", input.PrivacyPolicyVersion),
		zap.String("consent_method", input.ConsentMethod))
	return nil
}

func (m *consentManager) WithdrawConsent(ctx context.Context, sessionID uuid.UUID) error {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("withdraw consent for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("withdraw consent: %w", err)
	}
	prev := session.Clone()

	now := m.clk.Now().UTC()
	session.ConsentGiven = false
	session.UpdatedAt = now

	if err := m.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("withdraw consent for %s: %w", sessionID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("withdraw consent: %w", err)
	}

	// Stamp the most recent consent record, if any. A session that never
	// consented can still withdraw; only the flag changes.
	latest, err := m.consents.LatestBySession(ctx, sessionID)
	if err == nil {
		if err := m.consents.MarkWithdrawn(ctx, latest.ID, now); err != nil {
			m.restore(ctx, prev)
			return fmt.Errorf("mark consent withdrawn: %w", err)
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		m.restore(ctx, prev)
		return fmt.Errorf("withdraw consent: %w", err)
	}

	if _, err := m.audit.Append(ctx, sessionID, models.AuditActionConsentWithdrawn, nil,
		session.IPAddressHash, session.UserAgentFingerprint); err != nil {
		m.restore(ctx, prev)
		return err
	}

	m.logger.Info("Consent withdrawn", zap.String("session_id", sessionID.String()))
	return nil
}

func (m *consentManager) History(ctx context.Context, sessionID uuid.UUID) ([]*models.ConsentRecord, error) {
	records, err := m.consents.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	return records, nil
}

func (m *consentManager) restore(ctx context.Context, prev *models.GuestSession) {
	if err := m.sessions.Update(ctx, prev); err != nil {
		m.logger.Error("Failed to roll back session after consent failure",
			zap.String("session_id", prev.ID.String()),
			zap.Error(err))
	}
}
