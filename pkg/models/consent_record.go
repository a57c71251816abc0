package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsentMethod values describe how consent was captured.
const (
	ConsentMethodBannerClick = "banner_click"
	ConsentMethodSettings    = "settings_page"
)

// Cookie category names used in GuestSession.CookiePreferences.
const (
	CookieCategoryFunctional = "functional"
	CookieCategoryAnalytics  = "analytics"
	CookieCategoryMarketing  = "marketing"
)

// ConsentRecord is one consent event. Re-consenting creates a new record
// rather than mutating the old one, so the full consent history is
// preserved. Only WithdrawnAt is ever set after creation.
type ConsentRecord struct {
	ID                   uuid.UUID  `json:"id"`
	GuestSessionID       uuid.UUID  `json:"guest_session_id"`
	ConsentTimestamp     time.Time  `json:"consent_timestamp"`
	PrivacyPolicyVersion string     `json:"privacy_policy_version"`
	CookiePolicyVersion  string     `json:"cookie_policy_version"`
	FunctionalCookies    bool       `json:"functional_cookies"`
	AnalyticsCookies     bool       `json:"analytics_cookies"`
	MarketingCookies     bool       `json:"marketing_cookies"`
	ConsentMethod        string     `json:"consent_method"`
	WithdrawnAt          *time.Time `json:"withdrawn_at,omitempty"`
}
