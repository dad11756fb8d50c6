package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/repository"
)

// Interface to create or verify user password hashes
type PasswordHasher interface {
	// Generate hash from password. Empty password must be rejected
	Hash(password string) (string, error)

	// Check user provided password against known hash
	// Must be protected against timing attacks
	Verify(hashedPassword string, password string) bool
}

type CreateParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type UserService struct {
	hasher   PasswordHasher
	userRepo repository.UserRepo

	// Hash checked when email is unknown, so login takes the same time either way
	dummyHash func() string
}

func NewService(hasher PasswordHasher, userRepo repository.UserRepo) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	return &UserService{
		hasher:   hasher,
		userRepo: userRepo,
		dummyHash: sync.OnceValue(func() string {
			hash, _ := hasher.Hash(uuid.NewString())
			return hash
		}),
	}
}

// Emails are compared case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) CreateUser(ctx context.Context, arg CreateParams) (models.User, error) {
	var user models.User
	hash, err := s.hasher.Hash(arg.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Email:          NormalizeEmail(arg.Email),
		HashedPassword: hash,
		FirstName:      strings.TrimSpace(arg.FirstName),
		LastName:       strings.TrimSpace(arg.LastName),
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Check credentials and return the user
// Unknown email and wrong password both return apperrors.ErrInvalidCredentials
// Inactive user gets apperrors.ErrAccountDisabled but only when the password matches
func (s *UserService) Authenticate(ctx context.Context, email string, password string) (models.User, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, NormalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.hasher.Verify(s.dummyHash(), password)
		return models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	if !s.hasher.Verify(user.HashedPassword, password) {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		return models.User{}, apperrors.ErrAccountDisabled
	}

	return user, nil
}

func (s *UserService) VerifyPassword(user models.User, password string) bool {
	return s.hasher.Verify(user.HashedPassword, password)
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.userRepo.GetUserByEmail(ctx, NormalizeEmail(email))
}

// Hash and store new password
func (s *UserService) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("can't update password. Err: %w", err)
	}

	return nil
}

func (s *UserService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.SetActive(ctx, userID, false)
}
