package repositories

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coursedeck/guest-engine/pkg/models"
)

// AuditRepository provides data access for the append-only audit log.
// Entries are never updated or removed, even after the owning session is
// deleted; they are the permanent processing record.
type AuditRepository interface {
	// Append stores a new entry and assigns it a monotonically-ordered id.
	Append(ctx context.Context, entry *models.AuditLogEntry) error

	// ListBySession returns all entries for a session in insertion order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error)
}

// memoryAuditRepository keeps entries in an append-only slice. Appends for
// independent sessions share one mutex, which is fine at in-memory scale;
// per-session order falls out of global insertion order.
type memoryAuditRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.AuditLogEntry
}

// NewMemoryAuditRepository creates an empty in-memory audit log.
func NewMemoryAuditRepository() AuditRepository {
	return &memoryAuditRepository{nextID: 1}
}

var _ AuditRepository = (*memoryAuditRepository)(nil)

func (r *memoryAuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneAuditEntry(entry)
	stored.ID = r.nextID
	r.nextID++
	r.entries = append(r.entries, stored)

	entry.ID = stored.ID
	return nil
}

func (r *memoryAuditRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.AuditLogEntry
	for _, e := range r.entries {
		if e.GuestSessionID == sessionID {
			result = append(result, cloneAuditEntry(e))
		}
	}
	return result, nil
}

// cloneAuditEntry copies an entry including its details map and hash slices,
// so neither appended input nor listed output aliases stored log state.
func cloneAuditEntry(e *models.AuditLogEntry) *models.AuditLogEntry {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	if e.IPAddressHash != nil {
		c.IPAddressHash = append([]byte{}, e.IPAddressHash...)
	}
	if e.UserAgentFingerprint != nil {
		c.UserAgentFingerprint = append([]byte{}, e.UserAgentFingerprint...)
	}
	return &c
}
