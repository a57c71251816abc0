package models

import (
	"time"

	"github.com/google/uuid"
)

// Default lifecycle parameters for guest sessions. Callers normally take
// these from config; the constants are the fallback when config is absent.
const (
	DefaultSessionTTL        = 30 * time.Minute
	DefaultAIRequestsLimit   = 10
	DefaultDeletionGraceDays = 30
	DefaultRetentionDays     = 30
)

// GuestSession is the aggregate root for an unauthenticated demo visitor.
// Raw IP addresses and user-agent strings are never stored on it; only the
// keyed 32-byte pseudonymized forms appear here.
type GuestSession struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// AI usage accounting. The count is incremented by the API layer; the
	// limit is fixed at creation.
	AIRequestsCount int `json:"ai_requests_count"`
	AIRequestsLimit int `json:"ai_requests_limit"`

	// FeaturesViewed is a deduplicated, append-only set of feature
	// identifiers, kept as a slice for stable JSON/SQL round-trips.
	FeaturesViewed []string `json:"features_viewed"`

	// Consent state. ConsentTimestamp is set when consent is recorded and
	// re-set on re-consent.
	ConsentGiven         bool            `json:"consent_given"`
	ConsentTimestamp     *time.Time      `json:"consent_timestamp,omitempty"`
	PrivacyPolicyVersion *string         `json:"privacy_policy_version,omitempty"`
	CookiePolicyVersion  *string         `json:"cookie_policy_version,omitempty"`
	CookiePreferences    map[string]bool `json:"cookie_preferences"`

	// Pseudonymized fingerprint. Either both are set or both are nil.
	IPAddressHash        []byte `json:"ip_address_hash,omitempty"`
	UserAgentFingerprint []byte `json:"user_agent_fingerprint,omitempty"`

	// IsReturningGuest is decided at creation time and never mutated.
	IsReturningGuest bool `json:"is_returning_guest"`

	// Personalization carried over from a matched prior session.
	UserProfile        map[string]any `json:"user_profile"`
	CommunicationStyle string         `json:"communication_style"`

	// Right-to-erasure state. When DeletionRequestedAt is set,
	// DeletionScheduledAt is set too (request time + grace period).
	DeletionRequestedAt *time.Time `json:"deletion_requested_at,omitempty"`
	DeletionScheduledAt *time.Time `json:"deletion_scheduled_at,omitempty"`
}

// NewGuestSession builds a session with all privacy fields at their
// defaults. Collections are allocated fresh per instance so two sessions
// never share a map or slice.
func NewGuestSession(now time.Time, ttl time.Duration, aiRequestsLimit int) *GuestSession {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if aiRequestsLimit <= 0 {
		aiRequestsLimit = DefaultAIRequestsLimit
	}
	return &GuestSession{
		ID:                uuid.New(),
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		AIRequestsLimit:   aiRequestsLimit,
		FeaturesViewed:    []string{},
		CookiePreferences: make(map[string]bool),
		UserProfile:       make(map[string]any),
	}
}

// IsActive reports whether the session is still servable: not past its TTL
// and not past its scheduled deletion date. Anything else is sweep-eligible.
func (s *GuestSession) IsActive(now time.Time) bool {
	if !now.Before(s.ExpiresAt) {
		return false
	}
	if s.DeletionScheduledAt != nil && !now.Before(*s.DeletionScheduledAt) {
		return false
	}
	return true
}

// MarkFeatureViewed adds a feature identifier to the viewed set.
// Returns false if the feature was already recorded.
func (s *GuestSession) MarkFeatureViewed(feature string) bool {
	for _, f := range s.FeaturesViewed {
		if f == feature {
			return false
		}
	}
	s.FeaturesViewed = append(s.FeaturesViewed, feature)
	return true
}

// HasFingerprint reports whether both pseudonymized identifiers are set.
// A partial fingerprint never participates in returning-guest matching.
func (s *GuestSession) HasFingerprint() bool {
	return len(s.IPAddressHash) > 0 && len(s.UserAgentFingerprint) > 0
}

// Clone returns a deep copy. The in-memory store hands out clones so callers
// can mutate their copy freely and commit it back through Update.
func (s *GuestSession) Clone() *GuestSession {
	c := *s
	c.FeaturesViewed = append([]string{}, s.FeaturesViewed...)
	c.CookiePreferences = make(map[string]bool, len(s.CookiePreferences))
	for k, v := range s.CookiePreferences {
		c.CookiePreferences[k] = v
	}
	c.UserProfile = make(map[string]any, len(s.UserProfile))
	for k, v := range s.UserProfile {
		c.UserProfile[k] = v
	}
	if s.IPAddressHash != nil {
		c.IPAddressHash = append([]byte{}, s.IPAddressHash...)
	}
	if s.UserAgentFingerprint != nil {
		c.UserAgentFingerprint = append([]byte{}, s.UserAgentFingerprint...)
	}
	if s.ConsentTimestamp != nil {
		t := *s.ConsentTimestamp
		c.ConsentTimestamp = &t
	}
	if s.PrivacyPolicyVersion != nil {
		v := *s.PrivacyPolicyVersion
		c.PrivacyPolicyVersion = &v
	}
	if s.CookiePolicyVersion != nil {
		v := *s.CookiePolicyVersion
		c.CookiePolicyVersion = &v
	}
	if s.DeletionRequestedAt != nil {
		t := *s.DeletionRequestedAt
		c.DeletionRequestedAt = &t
	}
	if s.DeletionScheduledAt != nil {
		t := *s.DeletionScheduledAt
		c.DeletionScheduledAt = &t
	}
	return &c
}
