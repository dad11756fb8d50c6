package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/models"
)

type CreateUserParams struct {
	Email          string
	HashedPassword string
	FirstName      string
	LastName       string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return error apperrors.ErrUserAlreadyExists
	// Uniqueness must be enforced by the storage itself, not by check-then-insert
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Replace password hash and bump 'updated_at'
	// If user not found must return apperrors.ErrUserNotFound
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	// Users are never deleted, only deactivated
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
}

// Session repository interface
// The only place where session 'is_active' and 'expires_at' are written
type SessionRepo interface {
	Create(ctx context.Context, s models.Session) (models.Session, error)

	// Return session even if it is inactive or expired
	// If session not found must return apperrors.ErrSessionNotFound
	Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error)

	// Atomically check the session is active and not expired at 'now' and update its 'last_accessed_at'
	// If no such session must return apperrors.ErrSessionInvalid
	Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) (models.Session, error)

	// Deactivate session. Must be idempotent: missing or inactive session is not an error
	Deactivate(ctx context.Context, sessionID uuid.UUID) error

	// Deactivate all sessions of the user
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (count int64, err error)

	// List user sessions, most recent first
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
}

type Storage interface {
	User() UserRepo
	Session() SessionRepo
}
