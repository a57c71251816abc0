package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testEnv wires a full in-memory engine with a controllable clock.
type testEnv struct {
	engine      *Engine
	sessionRepo repositories.SessionRepository
	auditRepo   repositories.AuditRepository
	consentRepo repositories.ConsentRepository
	hasher      *pseudonym.Engine
	salt        []byte
	clk         *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	salt := []byte("service-test-secret")
	hasher, err := pseudonym.NewEngine(salt)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(testStart)

	env := &testEnv{
		sessionRepo: repositories.NewMemorySessionRepository(),
		auditRepo:   repositories.NewMemoryAuditRepository(),
		consentRepo: repositories.NewMemoryConsentRepository(),
		hasher:      hasher,
		salt:        salt,
		clk:         clk,
	}
	env.engine = NewEngine(env.sessionRepo, env.auditRepo, env.consentRepo,
		hasher, salt, EngineConfig{}, clk, zap.NewNop())
	return env
}

// trailActions flattens a session's audit trail to its action names.
func (e *testEnv) trailActions(t *testing.T, sessionID uuid.UUID) []string {
	t.Helper()
	entries, err := e.engine.Audit.EntriesFor(context.Background(), sessionID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

var errAppendRefused = errors.New("append refused")

// failingAuditRepository rejects appends after a set number of successes.
// Listing still works so rollback paths can be observed.
type failingAuditRepository struct {
	inner      repositories.AuditRepository
	allowed    int
	appendsRun int
}

func (r *failingAuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if r.appendsRun >= r.allowed {
		return errAppendRefused
	}
	r.appendsRun++
	return r.inner.Append(ctx, entry)
}

func (r *failingAuditRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error) {
	return r.inner.ListBySession(ctx, sessionID)
}

var _ repositories.AuditRepository = (*failingAuditRepository)(nil)
