package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/models"
)

// ConsentRepository provides data access for versioned consent records.
// Records are append-only except for the withdrawal timestamp.
type ConsentRepository interface {
	// Create inserts a new consent record.
	Create(ctx context.Context, record *models.ConsentRecord) error

	// LatestBySession returns the most recent consent record for a session,
	// or apperrors.ErrNotFound if the session never consented.
	LatestBySession(ctx context.Context, sessionID uuid.UUID) (*models.ConsentRecord, error)

	// ListBySession returns all consent records for a session, oldest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.ConsentRecord, error)

	// MarkWithdrawn stamps withdrawn_at on a record.
	MarkWithdrawn(ctx context.Context, recordID uuid.UUID, at time.Time) error

	// Delete removes a record. Compensation hook for consent mutations that
	// fail after the record is written; nothing else deletes consent history.
	Delete(ctx context.Context, recordID uuid.UUID) error
}

type memoryConsentRepository struct {
	mu      sync.Mutex
	records []*models.ConsentRecord
}

// NewMemoryConsentRepository creates an empty in-memory consent store.
func NewMemoryConsentRepository() ConsentRepository {
	return &memoryConsentRepository{}
}

var _ ConsentRepository = (*memoryConsentRepository)(nil)

func (r *memoryConsentRepository) Create(ctx context.Context, record *models.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *record
	r.records = append(r.records, &stored)
	return nil
}

func (r *memoryConsentRepository) LatestBySession(ctx context.Context, sessionID uuid.UUID) (*models.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Records are appended in order, so the last match is the latest.
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].GuestSessionID == sessionID {
			copied := *r.records[i]
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memoryConsentRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.ConsentRecord
	for _, rec := range r.records {
		if rec.GuestSessionID == sessionID {
			copied := *rec
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *memoryConsentRepository) MarkWithdrawn(ctx context.Context, recordID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID == recordID {
			t := at
			rec.WithdrawnAt = &t
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memoryConsentRepository) Delete(ctx context.Context, recordID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rec := range r.records {
		if rec.ID == recordID {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}
