package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/repository"
)

const defaultTTL = 7 * 24 * time.Hour

type Config struct {
	// Session lifetime, fixed at creation
	// If not set than default is used
	TTL time.Duration

	// If not set than time.Now is used
	Now func() time.Time
}

// Session registry is the only writer of session validity
type Registry struct {
	repo repository.SessionRepo
	ttl  time.Duration
	now  func() time.Time
}

func NewRegistry(cfg Config, repo repository.SessionRepo) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("session repo must not be nil")
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{repo: repo, ttl: cfg.TTL, now: cfg.Now}, nil
}

func (r *Registry) Create(ctx context.Context, userID uuid.UUID, device models.DeviceInfo) (models.Session, error) {
	now := r.now()
	s, err := r.repo.Create(ctx, models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Device:    device,
		IsActive:  true,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return s, fmt.Errorf("can't create session. Err: %w", err)
	}
	return s, nil
}

func (r *Registry) Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	return r.repo.Get(ctx, sessionID)
}

// Validity computed against current time on every call
func (r *Registry) IsValid(s models.Session) bool {
	return s.IsValid(r.now())
}

// Return session if it is still valid and mark it accessed
// Check and touch is one storage operation: session invalidated before never resolves
func (r *Registry) Resolve(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	return r.repo.Touch(ctx, sessionID, r.now())
}

func (r *Registry) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return r.repo.Deactivate(ctx, sessionID)
}

func (r *Registry) InvalidateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.repo.DeactivateAllForUser(ctx, userID)
}

func (r *Registry) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	return r.repo.ListForUser(ctx, userID)
}
