package handlers

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/handlers/middleware"
	"github.com/askibill/askibill/internal/logger"
	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/service/auth"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// Allowed CORS origins, any if empty
	CORSOrigins []string

	// Requests per minute per client IP on credential endpoints
	AuthRateLimitRPM int

	// Proxies whose X-Forwarded-For and X-Real-IP are believed, none if empty
	TrustedProxies []netip.Prefix
}

func NewRouter(cfg RouterConfig, authService authService, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(authService, logger)
	limited := middleware.NewRateLimiter(cfg.AuthRateLimitRPM).Limit

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", limited(handleRegister(authService, logger)))
	apiauth.Handle("POST /login", limited(handleLogin(authService, logger)))
	apiauth.Handle("POST /refresh", limited(handleRefresh(authService, logger)))
	apiauth.Handle("POST /logout", handleLogout(authService, logger))
	apiauth.Handle("POST /forgot-password", limited(handleForgotPassword(authService, logger)))
	apiauth.Handle("POST /reset-password", limited(handleResetPassword(authService, logger)))

	apiauth.Handle("GET /me", withAuth(handleUserMe()))
	apiauth.Handle("POST /change-password", withAuth(handleChangePassword(authService, logger)))
	apiauth.Handle("GET /sessions", withAuth(handleListSessions(authService, logger)))
	apiauth.Handle("DELETE /sessions/{id}", withAuth(handleRevokeSession(authService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.RealIP(cfg.TrustedProxies),
		middleware.RequestLogger(logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	return handler
}

type authService interface {
	// Register user with email and password
	// Has to return apperrors.ErrUserAlreadyExists if email is taken
	Register(ctx context.Context, arg auth.RegisterParams) (models.User, error)

	// Open new session and issue token pair
	// Has to return apperrors.ErrInvalidCredentials for unknown email or wrong password
	// and apperrors.ErrAccountDisabled for inactive user
	Login(ctx context.Context, email string, password string, device models.DeviceInfo) (models.TokenPair, error)

	// Issue new token pair for session of the refresh token
	// If token is bad: has to return apperrors.ErrInvalidToken
	// If session is revoked or expired: has to return apperrors.ErrSessionInvalid
	// If user is disabled: has to return apperrors.ErrAccountDisabled
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Invalidate session of the access token. Bad token is not an error
	Logout(ctx context.Context, access string) error

	// Resolve access token to user and session
	Authenticate(ctx context.Context, access string) (models.User, models.Session, error)

	// Send reset link. Unknown email is not an error
	// If delivery failed: has to return apperrors.ErrEmailDelivery
	ForgotPassword(ctx context.Context, email string) error

	// If token is bad, expired or its user is gone: has to return apperrors.ErrInvalidToken
	ResetPassword(ctx context.Context, token string, newPassword string) error

	// If current password doesn't match: has to return apperrors.ErrInvalidCredentials
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error

	ListSessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error)

	// If session is missing or foreign: has to return apperrors.ErrSessionNotFound
	RevokeSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error
}
