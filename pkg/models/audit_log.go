package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AuditAction values cover every state transition a guest session can make.
const (
	AuditActionCreated           = "created"
	AuditActionUpdated           = "updated"
	AuditActionConsentGiven      = "consent_given"
	AuditActionConsentWithdrawn  = "consent_withdrawn"
	AuditActionDeletionRequested = "deletion_requested"
	AuditActionDeleted           = "deleted"
	AuditActionDataAccessed      = "data_accessed"
)

// AuditLogEntry is one row of the permanent processing record. Entries are
// append-only and survive deletion of the session they describe.
// Stored in the guest_session_audit_log table.
type AuditLogEntry struct {
	ID             int64          `json:"id"`
	GuestSessionID uuid.UUID      `json:"guest_session_id"`
	Action         string         `json:"action"`
	Details        map[string]any `json:"details,omitempty"`

	// Pseudonymized request identifiers, when the triggering call had them.
	IPAddressHash        []byte `json:"ip_address_hash,omitempty"`
	UserAgentFingerprint []byte `json:"user_agent_fingerprint,omitempty"`

	// Checksum is a tamper-evidence signal over (session id, action,
	// timestamp, shared salt). It detects post-hoc edits, not attackers
	// who hold store write access and know the scheme.
	Checksum string `json:"checksum"`

	CreatedAt time.Time `json:"created_at"`
}

// ComputeChecksum returns the hex SHA-256 over the four covered fields.
// The timestamp is normalized to UTC RFC3339Nano so recomputation is stable
// across drivers that round-trip time zones differently.
func (e *AuditLogEntry) ComputeChecksum(salt []byte) string {
	h := sha256.New()
	h.Write([]byte(e.GuestSessionID.String()))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.CreatedAt.UTC().Format(time.RFC3339Nano)))
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum recomputes the checksum and compares it against the stored
// value, detecting any edit to the covered fields.
func (e *AuditLogEntry) VerifyChecksum(salt []byte) bool {
	return e.Checksum == e.ComputeChecksum(salt)
}
