package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/handlers/render"
	"github.com/askibill/askibill/internal/handlers/userctx"
	"github.com/askibill/askibill/internal/models"
)

const bearerScheme = "Bearer"

type authenticator interface {
	Authenticate(ctx context.Context, access string) (models.User, models.Session, error)
}

type errorLogger interface {
	Error(msg string, args ...any)
}

// Extract token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate request by bearer access token
// User and session are available to next handlers with userctx
func AuthMiddleware(a authenticator, l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}

			user, session, err := a.Authenticate(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrAccountDisabled):
				unauthorized(w, "User account is disabled")
				return
			case errors.Is(err, apperrors.ErrInvalidToken), errors.Is(err, apperrors.ErrSessionInvalid):
				unauthorized(w, "Unauthorized")
				return
			default:
				l.Error("Authentication failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := userctx.New(r.Context(), user, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", bearerScheme)
	render.ServiceError(w, message, http.StatusUnauthorized)
}
