package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coursedeck/guest-engine/pkg/database"
	"github.com/coursedeck/guest-engine/pkg/models"
)

// postgresAuditRepository stores entries in guest_session_audit_log.
// The table deliberately has no foreign key to guest_sessions: audit rows
// must outlive the session they describe.
type postgresAuditRepository struct {
	db *database.DB
}

// NewPostgresAuditRepository creates a Postgres-backed audit log.
func NewPostgresAuditRepository(db *database.DB) AuditRepository {
	return &postgresAuditRepository{db: db}
}

var _ AuditRepository = (*postgresAuditRepository)(nil)

func (r *postgresAuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	var detailsJSON []byte
	var err error
	if len(entry.Details) > 0 {
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO guest_session_audit_log (
			guest_session_id, action, details, ip_address_hash, user_agent_fingerprint, checksum, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		entry.GuestSessionID,
		entry.Action,
		detailsJSON,
		entry.IPAddressHash,
		entry.UserAgentFingerprint,
		entry.Checksum,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit log entry: %w", err)
	}
	return nil
}

func (r *postgresAuditRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, guest_session_id, action, details, ip_address_hash, user_agent_fingerprint, checksum, created_at
		FROM guest_session_audit_log
		WHERE guest_session_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log entries: %w", err)
	}
	return entries, nil
}

func scanAuditLogEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var detailsJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.GuestSessionID,
		&entry.Action,
		&detailsJSON,
		&entry.IPAddressHash,
		&entry.UserAgentFingerprint,
		&entry.Checksum,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
	}

	if len(detailsJSON) > 0 && string(detailsJSON) != "null" {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return &entry, nil
}
