package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/models"
)

const sessionColumns = `id, user_id, user_agent, ip_address, device, is_active, expires_at, created_at, last_accessed_at`

type SessionRepo struct {
	DB DBTX
}

const createSession = `-- name: CreateSession
INSERT INTO user_sessions (id, user_id, user_agent, ip_address, device, is_active, expires_at, created_at, last_accessed_at)
VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $7)
RETURNING ` + sessionColumns

// Create new active session. Zero ID and CreatedAt are filled in
func (r *SessionRepo) Create(ctx context.Context, s models.Session) (models.Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(
		ctx,
		createSession,
		s.ID,
		s.UserID,
		s.Device.UserAgent,
		s.Device.IPAddress,
		s.Device.Device,
		s.ExpiresAt,
		s.CreatedAt,
	)
	session, err := pgx.CollectOneRow(rows, rowToSession)
	if err != nil {
		return session, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

const getSession = `-- name: GetSession
SELECT ` + sessionColumns + ` FROM user_sessions
WHERE id = $1
`

func (r *SessionRepo) Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, getSession, sessionID)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFound
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

// Check and update happen in one statement
// A session deactivated concurrently is never touched after deactivation commits
const touchSession = `-- name: TouchSession
UPDATE user_sessions
SET last_accessed_at = $2
WHERE id = $1 AND is_active AND expires_at > $2
RETURNING ` + sessionColumns

func (r *SessionRepo) Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, touchSession, sessionID, now)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionInvalid
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const deactivateSession = `-- name: DeactivateSession
UPDATE user_sessions
SET is_active = FALSE
WHERE id = $1 AND is_active
`

func (r *SessionRepo) Deactivate(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, deactivateSession, sessionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const deactivateAllForUser = `-- name: DeactivateAllForUser
UPDATE user_sessions
SET is_active = FALSE
WHERE user_id = $1 AND is_active
`

func (r *SessionRepo) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deactivateAllForUser, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listForUser = `-- name: ListSessionsForUser
SELECT ` + sessionColumns + ` FROM user_sessions
WHERE user_id = $1
ORDER BY created_at DESC
`

func (r *SessionRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	rows, _ := r.DB.Query(ctx, listForUser, userID)
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return sessions, nil
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Device.UserAgent,
		&s.Device.IPAddress,
		&s.Device.Device,
		&s.IsActive,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.LastAccessedAt,
	)
	return s, err
}
