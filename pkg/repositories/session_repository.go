package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
)

// SessionRepository is the persistence boundary for guest sessions. The
// engine works against this interface only; backends must preserve the same
// semantics whether they are a mutex-guarded map or a relational table.
type SessionRepository interface {
	// Create inserts a new session keyed by its id.
	Create(ctx context.Context, session *models.GuestSession) error

	// Get returns the session or apperrors.ErrNotFound for unknown or
	// already-deleted ids.
	Get(ctx context.Context, id uuid.UUID) (*models.GuestSession, error)

	// Update replaces the full record keyed by id. The write itself is
	// atomic; read-modify-write sequences are the caller's concern and
	// last-writer-wins. Returns apperrors.ErrNotFound if the id is gone.
	Update(ctx context.Context, session *models.GuestSession) error

	// Delete removes the record. Returns true if a record existed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// FindByFingerprint returns the most recently created session whose
	// stored fingerprint pair matches both hashes exactly, or
	// apperrors.ErrNotFound. Partial matches never count.
	FindByFingerprint(ctx context.Context, ipHash, uaHash []byte) (*models.GuestSession, error)

	// ListCreatedBetween returns sessions with start <= created_at < end.
	ListCreatedBetween(ctx context.Context, start, end time.Time) ([]*models.GuestSession, error)

	// ListAll returns every stored session.
	ListAll(ctx context.Context) ([]*models.GuestSession, error)

	// ScanExpired returns ids of sessions with expires_at < before.
	ScanExpired(ctx context.Context, before time.Time) ([]uuid.UUID, error)

	// ScanScheduledForDeletion returns ids of sessions whose
	// deletion_scheduled_at is at or before the given time.
	ScanScheduledForDeletion(ctx context.Context, by time.Time) ([]uuid.UUID, error)
}

// memorySessionRepository is the in-memory reference store: one mutex
// guarding the whole map. Sessions are short-lived and low-cardinality, so
// the linear scans below are acceptable here; the Postgres implementation
// indexes them instead.
type memorySessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.GuestSession
}

// NewMemorySessionRepository creates an empty in-memory session store.
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{
		sessions: make(map[uuid.UUID]*models.GuestSession),
	}
}

var _ SessionRepository = (*memorySessionRepository)(nil)

func (r *memorySessionRepository) Create(ctx context.Context, session *models.GuestSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *memorySessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.GuestSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memorySessionRepository) Update(ctx context.Context, session *models.GuestSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		// Concurrently deleted: last writer after delete loses.
		return apperrors.ErrNotFound
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *memorySessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false, nil
	}
	delete(r.sessions, id)
	return true, nil
}

func (r *memorySessionRepository) FindByFingerprint(ctx context.Context, ipHash, uaHash []byte) (*models.GuestSession, error) {
	if len(ipHash) == 0 || len(uaHash) == 0 {
		return nil, apperrors.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var match *models.GuestSession
	for _, s := range r.sessions {
		if !s.HasFingerprint() {
			continue
		}
		if !pseudonym.Equal(s.IPAddressHash, ipHash) || !pseudonym.Equal(s.UserAgentFingerprint, uaHash) {
			continue
		}
		if match == nil || s.CreatedAt.After(match.CreatedAt) {
			match = s
		}
	}
	if match == nil {
		return nil, apperrors.ErrNotFound
	}
	return match.Clone(), nil
}

func (r *memorySessionRepository) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]*models.GuestSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.GuestSession
	for _, s := range r.sessions {
		if s.CreatedAt.Before(start) || !s.CreatedAt.Before(end) {
			continue
		}
		result = append(result, s.Clone())
	}
	sortByCreatedAt(result)
	return result, nil
}

func (r *memorySessionRepository) ListAll(ctx context.Context) ([]*models.GuestSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*models.GuestSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s.Clone())
	}
	sortByCreatedAt(result)
	return result, nil
}

func (r *memorySessionRepository) ScanExpired(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memorySessionRepository) ScanScheduledForDeletion(ctx context.Context, by time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, s := range r.sessions {
		if s.DeletionScheduledAt != nil && !s.DeletionScheduledAt.After(by) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func sortByCreatedAt(sessions []*models.GuestSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
