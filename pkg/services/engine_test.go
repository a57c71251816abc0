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

// TestEngine_GuestLifecycleEndToEnd walks one guest through the full
// journey: arrival, consent, erasure request, erasure, and the audit trail
// that outlives all of it.
func TestEngine_GuestLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.engine.Sessions.Create(ctx)
	require.NoError(t, err)

	env.clk.Add(time.Minute)
	require.NoError(t, env.engine.Consent.RecordConsent(ctx, session.ID, ConsentInput{
		Given:                true,
		PrivacyPolicyVersion: "3.3.1",
		CookiePreferences: map[string]bool{
			models.CookieCategoryFunctional: true,
			models.CookieCategoryAnalytics:  true,
			models.CookieCategoryMarketing:  false,
		},
		RawIP:        "203.0.113.5",
		RawUserAgent: "TestAgent/1.0",
	}))

	env.clk.Add(time.Minute)
	scheduled, err := env.engine.Lifecycle.RequestDeletion(ctx, session.ID, "user_request")
	require.NoError(t, err)
	assert.Equal(t, env.clk.Now().UTC().AddDate(0, 0, 30), scheduled)

	// Still retrievable during the grace period, with consent intact.
	got, err := env.engine.Sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.ConsentGiven)
	assert.Equal(t, "3.3.1", *got.PrivacyPolicyVersion)

	existed, err := env.engine.Lifecycle.ExecuteDeletion(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = env.engine.Sessions.Get(ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The complete processing record remains, in order, with verifiable
	// checksums.
	assert.Equal(t, []string{
		models.AuditActionCreated,
		models.AuditActionConsentGiven,
		models.AuditActionDeletionRequested,
		models.AuditActionDeleted,
	}, env.trailActions(t, session.ID))

	ok, err := env.engine.Audit.VerifyTrail(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Consent history also survives as part of the compliance record.
	records, err := env.engine.Consent.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "3.3.1", records[0].PrivacyPolicyVersion)
}

func TestEngine_RunSchedulerSweepsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)

	env.clk.Set(testStart.AddDate(0, 0, -40))
	old, err := env.engine.Sessions.Create(ctx)
	require.NoError(t, err)
	env.clk.Set(testStart)

	env.engine.Lifecycle.RunScheduler(ctx, 15*time.Minute, 30)

	// The startup sweep runs on the scheduler goroutine; poll until it
	// lands rather than racing it.
	deadline := time.After(2 * time.Second)
	for {
		if _, err := env.engine.Sessions.Get(ctx, old.ID); err != nil {
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
			break
		}
		select {
		case <-deadline:
			t.Fatal("startup sweep never removed the expired session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
