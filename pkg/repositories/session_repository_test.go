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
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
)

func newTestSession(t *testing.T, createdAt time.Time) *models.GuestSession {
	t.Helper()
	return models.NewGuestSession(createdAt, models.DefaultSessionTTL, models.DefaultAIRequestsLimit)
}

func testHasher(t *testing.T) *pseudonym.Engine {
	t.Helper()
	engine, err := pseudonym.NewEngine([]byte("repository-test-key"))
	require.NoError(t, err)
	return engine
}

func TestMemorySessionRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	session := newTestSession(t, time.Now().UTC())
	session.MarkFeatureViewed("ai_tutor")

	require.NoError(t, repo.Create(ctx, session))

	got, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestMemorySessionRepository_GetUnknownID(t *testing.T) {
	repo := NewMemorySessionRepository()

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemorySessionRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	session := newTestSession(t, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session))

	// Mutating the caller's struct after Create must not leak into the store.
	session.MarkFeatureViewed("labs")
	stored, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.FeaturesViewed)

	// Mutating a Get result must not leak either.
	stored.CookiePreferences["analytics"] = true
	again, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, again.CookiePreferences)
}

func TestMemorySessionRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	session := newTestSession(t, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session))

	session.AIRequestsCount = 3
	session.MarkFeatureViewed("course_preview")
	require.NoError(t, repo.Update(ctx, session))

	got, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AIRequestsCount)
	assert.Equal(t, []string{"course_preview"}, got.FeaturesViewed)
}

func TestMemorySessionRepository_UpdateAfterDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	session := newTestSession(t, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session))

	deleted, err := repo.Delete(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	// A write racing with deletion must not resurrect the record.
	err = repo.Update(ctx, session)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.Get(ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemorySessionRepository_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	session := newTestSession(t, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session))

	first, err := repo.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestMemorySessionRepository_FindByFingerprint(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	hasher := testHasher(t)

	ip1, ua1 := hasher.Fingerprint("203.0.113.5", "TestAgent/1.0")
	_, ua2 := hasher.Fingerprint("203.0.113.5", "OtherAgent/2.0")

	older := newTestSession(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	older.IPAddressHash = ip1
	older.UserAgentFingerprint = ua1
	require.NoError(t, repo.Create(ctx, older))

	newer := newTestSession(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC))
	newer.IPAddressHash = ip1
	newer.UserAgentFingerprint = ua1
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.FindByFingerprint(ctx, ip1, ua1)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID, "most recent match wins")

	// Same IP with a different user agent is not a match.
	_, err = repo.FindByFingerprint(ctx, ip1, ua2)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemorySessionRepository_FindByFingerprintIgnoresPartialRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	hasher := testHasher(t)

	ipHash, uaHash := hasher.Fingerprint("203.0.113.5", "TestAgent/1.0")

	partial := newTestSession(t, time.Now().UTC())
	partial.IPAddressHash = ipHash
	require.NoError(t, repo.Create(ctx, partial))

	_, err := repo.FindByFingerprint(ctx, ipHash, uaHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.FindByFingerprint(ctx, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemorySessionRepository_ListCreatedBetween(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	before := newTestSession(t, start.Add(-time.Minute))
	atStart := newTestSession(t, start)
	inside := newTestSession(t, start.Add(12*time.Hour))
	atEnd := newTestSession(t, end)
	for _, s := range []*models.GuestSession{before, atStart, inside, atEnd} {
		require.NoError(t, repo.Create(ctx, s))
	}

	got, err := repo.ListCreatedBetween(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, atStart.ID, got[0].ID)
	assert.Equal(t, inside.ID, got[1].ID)
}

func TestMemorySessionRepository_ScanExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expired := newTestSession(t, now.Add(-2*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, expired))

	boundary := newTestSession(t, now.Add(-time.Hour))
	boundary.ExpiresAt = now
	require.NoError(t, repo.Create(ctx, boundary))

	fresh := newTestSession(t, now)
	require.NoError(t, repo.Create(ctx, fresh))

	ids, err := repo.ScanExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{expired.ID}, ids)
}

func TestMemorySessionRepository_ScanScheduledForDeletion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := newTestSession(t, now.Add(-time.Hour))
	dueAt := now.Add(-time.Minute)
	due.DeletionScheduledAt = &dueAt
	require.NoError(t, repo.Create(ctx, due))

	atBoundary := newTestSession(t, now.Add(-time.Hour))
	boundaryAt := now
	atBoundary.DeletionScheduledAt = &boundaryAt
	require.NoError(t, repo.Create(ctx, atBoundary))

	future := newTestSession(t, now)
	futureAt := now.Add(time.Hour)
	future.DeletionScheduledAt = &futureAt
	require.NoError(t, repo.Create(ctx, future))

	unscheduled := newTestSession(t, now)
	require.NoError(t, repo.Create(ctx, unscheduled))

	ids, err := repo.ScanScheduledForDeletion(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{due.ID, atBoundary.ID}, ids)
}
