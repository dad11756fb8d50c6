package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/handlers/render"
	"github.com/askibill/askibill/internal/handlers/userctx"
	"github.com/askibill/askibill/internal/logger"
)

func handleListSessions(s authService, l logger.Logger) http.Handler {
	type session struct {
		ID             uuid.UUID `json:"id"`
		UserAgent      string    `json:"user_agent"`
		IPAddress      string    `json:"ip_address"`
		Device         string    `json:"device"`
		IsActive       bool      `json:"is_active"`
		Current        bool      `json:"current"`
		ExpiresAt      time.Time `json:"expires_at"`
		CreatedAt      time.Time `json:"created_at"`
		LastAccessedAt time.Time `json:"last_accessed_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		current, _ := userctx.SessionFromContext(r.Context())

		sessions, err := s.ListSessions(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to list sessions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		response := make([]session, 0, len(sessions))
		for _, sess := range sessions {
			response = append(response, session{
				ID:             sess.ID,
				UserAgent:      sess.Device.UserAgent,
				IPAddress:      sess.Device.IPAddress,
				Device:         sess.Device.Device,
				IsActive:       sess.IsActive,
				Current:        sess.ID == current.ID,
				ExpiresAt:      sess.ExpiresAt,
				CreatedAt:      sess.CreatedAt,
				LastAccessedAt: sess.LastAccessedAt,
			})
		}

		render.JSON(w, response)
	})
}

func handleRevokeSession(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// Malformed id can't belong to the user, so it is not found as well
		sessionID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Session not found", http.StatusNotFound)
			return
		}

		err = s.RevokeSession(r.Context(), user.ID, sessionID)

		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Session revoked successfully"})
		case errors.Is(err, apperrors.ErrSessionNotFound):
			render.ServiceError(w, "Session not found", http.StatusNotFound)
		default:
			l.Error("Failed to revoke session", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
