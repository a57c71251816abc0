package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/database"
	"github.com/coursedeck/guest-engine/pkg/models"
)

const consentColumns = `
	id, guest_session_id, consent_timestamp, privacy_policy_version, cookie_policy_version,
	functional_cookies, analytics_cookies, marketing_cookies, consent_method, withdrawn_at`

type postgresConsentRepository struct {
	db *database.DB
}

// NewPostgresConsentRepository creates a Postgres-backed consent store.
func NewPostgresConsentRepository(db *database.DB) ConsentRepository {
	return &postgresConsentRepository{db: db}
}

var _ ConsentRepository = (*postgresConsentRepository)(nil)

func (r *postgresConsentRepository) Create(ctx context.Context, record *models.ConsentRecord) error {
	query := `
		INSERT INTO consent_records (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		record.ID, record.GuestSessionID, record.ConsentTimestamp,
		record.PrivacyPolicyVersion, record.CookiePolicyVersion,
		record.FunctionalCookies, record.AnalyticsCookies, record.MarketingCookies,
		record.ConsentMethod, record.WithdrawnAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create consent record: %w", err)
	}
	return nil
}

func (r *postgresConsentRepository) LatestBySession(ctx context.Context, sessionID uuid.UUID) (*models.ConsentRecord, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consent_records
		WHERE guest_session_id = $1
		ORDER BY consent_timestamp DESC
		LIMIT 1`

	record, err := scanConsentRecord(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *postgresConsentRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.ConsentRecord, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consent_records
		WHERE guest_session_id = $1
		ORDER BY consent_timestamp`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consent records: %w", err)
	}
	defer rows.Close()

	var records []*models.ConsentRecord
	for rows.Next() {
		record, err := scanConsentRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating consent records: %w", err)
	}
	return records, nil
}

func (r *postgresConsentRepository) MarkWithdrawn(ctx context.Context, recordID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE consent_records SET withdrawn_at = $2 WHERE id = $1`, recordID, at)
	if err != nil {
		return fmt.Errorf("failed to mark consent withdrawn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *postgresConsentRepository) Delete(ctx context.Context, recordID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM consent_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete consent record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanConsentRecord(row pgx.Row) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := row.Scan(
		&record.ID, &record.GuestSessionID, &record.ConsentTimestamp,
		&record.PrivacyPolicyVersion, &record.CookiePolicyVersion,
		&record.FunctionalCookies, &record.AnalyticsCookies, &record.MarketingCookies,
		&record.ConsentMethod, &record.WithdrawnAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan consent record: %w", err)
	}
	return &record, nil
}
