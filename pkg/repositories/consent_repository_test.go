package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
)

func newConsentRecord(sessionID uuid.UUID, at time.Time, version string) *models.ConsentRecord {
	return &models.ConsentRecord{
		ID:                   uuid.New(),
		GuestSessionID:       sessionID,
		ConsentTimestamp:     at,
		PrivacyPolicyVersion: version,
		CookiePolicyVersion:  version,
		FunctionalCookies:    true,
		ConsentMethod:        models.ConsentMethodBannerClick,
	}
}

func TestMemoryConsentRepository_LatestBySession(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsentRepository()
	sessionID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newConsentRecord(sessionID, now, "3.0.0")))
	require.NoError(t, repo.Create(ctx, newConsentRecord(uuid.New(), now.Add(time.Minute), "9.9.9")))
	latest := newConsentRecord(sessionID, now.Add(2*time.Minute), "3.3.1")
	require.NoError(t, repo.Create(ctx, latest))

	got, err := repo.LatestBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
	assert.Equal(t, "3.3.1", got.PrivacyPolicyVersion)
}

func TestMemoryConsentRepository_LatestBySessionNotFound(t *testing.T) {
	repo := NewMemoryConsentRepository()

	_, err := repo.LatestBySession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryConsentRepository_ListBySessionOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsentRepository()
	sessionID := uuid.New()
	now := time.Now().UTC()

	first := newConsentRecord(sessionID, now, "3.0.0")
	second := newConsentRecord(sessionID, now.Add(time.Hour), "3.3.1")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	records, err := repo.ListBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}

func TestMemoryConsentRepository_MarkWithdrawn(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsentRepository()
	sessionID := uuid.New()
	record := newConsentRecord(sessionID, time.Now().UTC(), "3.3.1")
	require.NoError(t, repo.Create(ctx, record))

	withdrawnAt := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.MarkWithdrawn(ctx, record.ID, withdrawnAt))

	got, err := repo.LatestBySession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, got.WithdrawnAt)
	assert.Equal(t, withdrawnAt, *got.WithdrawnAt)
}

func TestMemoryConsentRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsentRepository()
	sessionID := uuid.New()
	now := time.Now().UTC()

	keep := newConsentRecord(sessionID, now, "3.0.0")
	drop := newConsentRecord(sessionID, now.Add(time.Minute), "3.3.1")
	require.NoError(t, repo.Create(ctx, keep))
	require.NoError(t, repo.Create(ctx, drop))

	require.NoError(t, repo.Delete(ctx, drop.ID))

	records, err := repo.ListBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, keep.ID, records[0].ID)

	err = repo.Delete(ctx, drop.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryConsentRepository_MarkWithdrawnUnknownRecord(t *testing.T) {
	repo := NewMemoryConsentRepository()

	err := repo.MarkWithdrawn(context.Background(), uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
