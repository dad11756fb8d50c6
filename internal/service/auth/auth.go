package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/logger"
	"github.com/askibill/askibill/internal/mailer"
	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/service/auth/tokencodec"
	"github.com/askibill/askibill/internal/service/user"
)

const (
	defaultResetURL    = "http://localhost:3000/reset-password"
	defaultMailTimeout = 10 * time.Second
)

type UserService interface {
	CreateUser(ctx context.Context, arg user.CreateParams) (models.User, error)
	Authenticate(ctx context.Context, email string, password string) (models.User, error)
	VerifyPassword(u models.User, password string) bool
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	SetPassword(ctx context.Context, userID uuid.UUID, password string) error
}

type SessionRegistry interface {
	Create(ctx context.Context, userID uuid.UUID, device models.DeviceInfo) (models.Session, error)
	Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error)
	Resolve(ctx context.Context, sessionID uuid.UUID) (models.Session, error)
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
	InvalidateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
}

type TokenCodec interface {
	IssueAccess(userID uuid.UUID, sessionID uuid.UUID) (models.IssuedToken, error)
	IssueRefresh(userID uuid.UUID, sessionID uuid.UUID) (models.IssuedToken, error)
	IssueReset(userID uuid.UUID) (models.IssuedToken, error)
	ParseKind(token string, kind models.TokenKind) (tokencodec.Claims, error)
	AccessTTL() time.Duration
	ResetTTL() time.Duration
}

type Config struct {
	// Frontend page which accepts reset token as 'token' query parameter
	// If not set than default is used
	ResetURL string

	// Deadline for single reset email delivery attempt
	// If not set than default is used
	MailTimeout time.Duration
}

type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AuthService struct {
	resetURL    *url.URL
	mailTimeout time.Duration

	users    UserService
	sessions SessionRegistry
	tokens   TokenCodec
	mailer   mailer.Sender
	logger   logger.Logger
}

func NewService(cfg Config, users UserService, sessions SessionRegistry, tokens TokenCodec, sender mailer.Sender, l logger.Logger) (*AuthService, error) {
	if users == nil || sessions == nil || tokens == nil || sender == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}

	if cfg.ResetURL == "" {
		cfg.ResetURL = defaultResetURL
	}
	resetURL, err := url.Parse(cfg.ResetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid reset url. Err: %w", err)
	}

	if cfg.MailTimeout == 0 {
		cfg.MailTimeout = defaultMailTimeout
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		resetURL:    resetURL,
		mailTimeout: cfg.MailTimeout,
		users:       users,
		sessions:    sessions,
		tokens:      tokens,
		mailer:      sender,
		logger:      l,
	}, nil
}

// Create new user account. No session is opened
func (s *AuthService) Register(ctx context.Context, arg RegisterParams) (models.User, error) {
	return s.users.CreateUser(ctx, user.CreateParams{
		Email:     arg.Email,
		Password:  arg.Password,
		FirstName: arg.FirstName,
		LastName:  arg.LastName,
	})
}

// Check credentials, open new session and issue token pair bound to it
func (s *AuthService) Login(ctx context.Context, email string, password string, device models.DeviceInfo) (models.TokenPair, error) {
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	session, err := s.sessions.Create(ctx, u.ID, device)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.issuePair(u.ID, session.ID)
}

// Issue new pair for the session the refresh token belongs to
// Session expiration is not extended and the used refresh token stays valid
// Disabled user gets apperrors.ErrAccountDisabled, same as on protected routes
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := s.tokens.ParseKind(refresh, models.TokenRefresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	u, session, err := s.resolveSession(ctx, claims)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.issuePair(u.ID, session.ID)
}

// Invalidate session of the access token
// Unparsable token is not an error: there is nothing to log out from
func (s *AuthService) Logout(ctx context.Context, access string) error {
	claims, err := s.tokens.ParseKind(access, models.TokenAccess)
	if err != nil {
		s.logger.Debug("Logout with invalid token ignored", "error", err)
		return nil
	}

	return s.sessions.Invalidate(ctx, claims.SessionID)
}

// Resolve access token to the user and the session it is bound to
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.User, models.Session, error) {
	claims, err := s.tokens.ParseKind(access, models.TokenAccess)
	if err != nil {
		return models.User{}, models.Session{}, err
	}

	return s.resolveSession(ctx, claims)
}

// Resolve session of access or refresh token claims and its active owner
func (s *AuthService) resolveSession(ctx context.Context, claims tokencodec.Claims) (models.User, models.Session, error) {
	session, err := s.sessions.Resolve(ctx, claims.SessionID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	if session.UserID != claims.Subject {
		return models.User{}, models.Session{}, fmt.Errorf("%w: session belongs to another user", apperrors.ErrInvalidToken)
	}

	u, err := s.users.GetUserByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, models.Session{}, fmt.Errorf("%w: unknown subject", apperrors.ErrInvalidToken)
	case err != nil:
		return models.User{}, models.Session{}, err
	case !u.IsActive:
		return models.User{}, models.Session{}, apperrors.ErrAccountDisabled
	}

	return u, session, nil
}

// Email reset link to the user. Unknown email is silently ignored
// Delivery is attempted once within MailTimeout, failure returns apperrors.ErrEmailDelivery
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil
	case err != nil:
		return err
	}

	reset, err := s.tokens.IssueReset(u.ID)
	if err != nil {
		return err
	}

	mailCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()

	msg := mailer.PasswordResetMessage(u.Email, s.resetLink(reset.Value), s.tokens.ResetTTL())
	if err := s.mailer.Send(mailCtx, msg); err != nil {
		s.logger.Error("Reset email not delivered", "user_id", u.ID, "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrEmailDelivery, err)
	}

	s.logger.Info("Reset email sent", "user_id", u.ID)
	return nil
}

// Set new password by reset token and log the user out everywhere
// Token stays usable until it expires, a repeated call sets the password again
func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) error {
	claims, err := s.tokens.ParseKind(token, models.TokenReset)
	if err != nil {
		return err
	}

	u, err := s.users.GetUserByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return fmt.Errorf("%w: unknown subject", apperrors.ErrInvalidToken)
	case err != nil:
		return err
	}

	if err := s.users.SetPassword(ctx, u.ID, newPassword); err != nil {
		return err
	}

	count, err := s.sessions.InvalidateAllForUser(ctx, u.ID)
	if err != nil {
		return err
	}

	s.logger.Info("Password reset", "user_id", u.ID, "sessions_invalidated", count)
	return nil
}

// Replace password after checking the current one. Other sessions stay active
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !s.users.VerifyPassword(u, currentPassword) {
		return apperrors.ErrInvalidCredentials
	}

	return s.users.SetPassword(ctx, u.ID, newPassword)
}

func (s *AuthService) ListSessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}

// Revoke own session. Foreign session is reported as not found
func (s *AuthService) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return apperrors.ErrSessionNotFound
	}

	return s.sessions.Invalidate(ctx, sessionID)
}

func (s *AuthService) issuePair(userID uuid.UUID, sessionID uuid.UUID) (models.TokenPair, error) {
	access, err := s.tokens.IssueAccess(userID, sessionID)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := s.tokens.IssueRefresh(userID, sessionID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh, ExpiresIn: s.tokens.AccessTTL()}, nil
}

func (s *AuthService) resetLink(token string) string {
	link := *s.resetURL
	query := link.Query()
	query.Set("token", token)
	link.RawQuery = query.Encode()
	return link.String()
}
