package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coursedeck/guest-engine/pkg/apperrors"
	"github.com/coursedeck/guest-engine/pkg/database"
	"github.com/coursedeck/guest-engine/pkg/models"
)

const sessionColumns = `
	id, created_at, updated_at, expires_at,
	ai_requests_count, ai_requests_limit, features_viewed,
	consent_given, consent_timestamp, privacy_policy_version, cookie_policy_version, cookie_preferences,
	ip_address_hash, user_agent_fingerprint, is_returning_guest,
	user_profile, communication_style,
	deletion_requested_at, deletion_scheduled_at`

// postgresSessionRepository stores guest sessions in the guest_sessions
// table. The scans the in-memory store does linearly are indexed here
// (expires_at, deletion_scheduled_at, fingerprint pair).
type postgresSessionRepository struct {
	db *database.DB
}

// NewPostgresSessionRepository creates a Postgres-backed session store.
func NewPostgresSessionRepository(db *database.DB) SessionRepository {
	return &postgresSessionRepository{db: db}
}

var _ SessionRepository = (*postgresSessionRepository)(nil)

func (r *postgresSessionRepository) Create(ctx context.Context, session *models.GuestSession) error {
	features, prefs, profile, err := marshalSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guest_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.db.Exec(ctx, query,
		session.ID, session.CreatedAt, session.UpdatedAt, session.ExpiresAt,
		session.AIRequestsCount, session.AIRequestsLimit, features,
		session.ConsentGiven, session.ConsentTimestamp, session.PrivacyPolicyVersion, session.CookiePolicyVersion, prefs,
		session.IPAddressHash, session.UserAgentFingerprint, session.IsReturningGuest,
		profile, session.CommunicationStyle,
		session.DeletionRequestedAt, session.DeletionScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create guest session: %w", err)
	}
	return nil
}

func (r *postgresSessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.GuestSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM guest_sessions WHERE id = $1`

	session, err := scanGuestSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (r *postgresSessionRepository) Update(ctx context.Context, session *models.GuestSession) error {
	features, prefs, profile, err := marshalSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE guest_sessions SET
			updated_at = $2, expires_at = $3,
			ai_requests_count = $4, features_viewed = $5,
			consent_given = $6, consent_timestamp = $7,
			privacy_policy_version = $8, cookie_policy_version = $9, cookie_preferences = $10,
			ip_address_hash = $11, user_agent_fingerprint = $12,
			user_profile = $13, communication_style = $14,
			deletion_requested_at = $15, deletion_scheduled_at = $16
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		session.ID, session.UpdatedAt, session.ExpiresAt,
		session.AIRequestsCount, features,
		session.ConsentGiven, session.ConsentTimestamp,
		session.PrivacyPolicyVersion, session.CookiePolicyVersion, prefs,
		session.IPAddressHash, session.UserAgentFingerprint,
		profile, session.CommunicationStyle,
		session.DeletionRequestedAt, session.DeletionScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update guest session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *postgresSessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM guest_sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete guest session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresSessionRepository) FindByFingerprint(ctx context.Context, ipHash, uaHash []byte) (*models.GuestSession, error) {
	if len(ipHash) == 0 || len(uaHash) == 0 {
		return nil, apperrors.ErrNotFound
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM guest_sessions
		WHERE ip_address_hash = $1 AND user_agent_fingerprint = $2
		ORDER BY created_at DESC
		LIMIT 1`

	session, err := scanGuestSession(r.db.QueryRow(ctx, query, ipHash, uaHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (r *postgresSessionRepository) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]*models.GuestSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM guest_sessions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`

	return r.querySessions(ctx, query, start, end)
}

func (r *postgresSessionRepository) ListAll(ctx context.Context) ([]*models.GuestSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM guest_sessions ORDER BY created_at`
	return r.querySessions(ctx, query)
}

func (r *postgresSessionRepository) ScanExpired(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `SELECT id FROM guest_sessions WHERE expires_at < $1`, before)
}

func (r *postgresSessionRepository) ScanScheduledForDeletion(ctx context.Context, by time.Time) ([]uuid.UUID, error) {
	return r.queryIDs(ctx,
		`SELECT id FROM guest_sessions WHERE deletion_scheduled_at IS NOT NULL AND deletion_scheduled_at <= $1`, by)
}

func (r *postgresSessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]*models.GuestSession, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guest sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.GuestSession
	for rows.Next() {
		session, err := scanGuestSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guest sessions: %w", err)
	}
	return sessions, nil
}

func (r *postgresSessionRepository) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan guest sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session ids: %w", err)
	}
	return ids, nil
}

func marshalSessionJSON(session *models.GuestSession) (features, prefs, profile []byte, err error) {
	features, err = json.Marshal(session.FeaturesViewed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal features_viewed: %w", err)
	}
	prefs, err = json.Marshal(session.CookiePreferences)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal cookie_preferences: %w", err)
	}
	profile, err = json.Marshal(session.UserProfile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal user_profile: %w", err)
	}
	return features, prefs, profile, nil
}

func scanGuestSession(row pgx.Row) (*models.GuestSession, error) {
	var session models.GuestSession
	var features, prefs, profile []byte

	err := row.Scan(
		&session.ID, &session.CreatedAt, &session.UpdatedAt, &session.ExpiresAt,
		&session.AIRequestsCount, &session.AIRequestsLimit, &features,
		&session.ConsentGiven, &session.ConsentTimestamp, &session.PrivacyPolicyVersion, &session.CookiePolicyVersion, &prefs,
		&session.IPAddressHash, &session.UserAgentFingerprint, &session.IsReturningGuest,
		&profile, &session.CommunicationStyle,
		&session.DeletionRequestedAt, &session.DeletionScheduledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan guest session: %w", err)
	}

	session.FeaturesViewed = []string{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &session.FeaturesViewed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features_viewed: %w", err)
		}
	}
	session.CookiePreferences = make(map[string]bool)
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &session.CookiePreferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cookie_preferences: %w", err)
		}
	}
	session.UserProfile = make(map[string]any)
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &session.UserProfile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user_profile: %w", err)
		}
	}

	return &session, nil
}
