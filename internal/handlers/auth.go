package handlers

import (
	"errors"
	"net/http"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/handlers/middleware"
	"github.com/askibill/askibill/internal/handlers/render"
	"github.com/askibill/askibill/internal/handlers/userctx"
	"github.com/askibill/askibill/internal/logger"
	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/service/auth"
)

const (
	tokenType = "bearer"

	resetLinkSentMessage = "If the email exists, a reset link has been sent"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    tokenType,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func handleRegister(s authService, l logger.Logger) http.Handler {
	type request struct {
		Email     string `json:"email" validate:"required,email,max=255"`
		Password  string `json:"password" validate:"required,password"`
		FirstName string `json:"first_name" validate:"max=100"`
		LastName  string `json:"last_name" validate:"max=100"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := s.Register(r.Context(), auth.RegisterParams{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})

		switch {
		case err == nil:
			render.JSON(w, newUserResponse(user))
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User with this email already exists", http.StatusBadRequest)
		default:
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(s authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
		Device   string `json:"device" validate:"max=255"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		device := models.DeviceInfo{
			UserAgent: r.UserAgent(),
			IPAddress: middleware.ClientIP(r),
			Device:    req.Device,
		}
		pair, err := s.Login(r.Context(), req.Email, req.Password, device)

		switch {
		case err == nil:
			render.JSON(w, newTokenResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			w.Header().Set("WWW-Authenticate", "Bearer")
			render.ServiceError(w, "Incorrect email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountDisabled):
			render.ServiceError(w, "User account is disabled", http.StatusUnauthorized)
		default:
			l.Error("Failed to login user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefresh(s authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.Refresh(r.Context(), req.RefreshToken)

		switch {
		case err == nil:
			render.JSON(w, newTokenResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidToken):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrSessionInvalid):
			render.ServiceError(w, "Session expired or invalid", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountDisabled):
			render.ServiceError(w, "User account is disabled", http.StatusUnauthorized)
		default:
			l.Error("Failed to refresh token pair", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Logout always succeeds for the client, missing or bad token included
func handleLogout(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := middleware.BearerToken(r); ok {
			if err := s.Logout(r.Context(), token); err != nil {
				l.Error("Failed to logout", "error", err)
			}
		}

		render.JSON(w, messageResponse{Message: "Successfully logged out"})
	})
}

func handleForgotPassword(s authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = s.ForgotPassword(r.Context(), req.Email)

		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: resetLinkSentMessage})
		case errors.Is(err, apperrors.ErrEmailDelivery):
			render.ServiceError(w, "Failed to send reset email", http.StatusInternalServerError)
		default:
			l.Error("Failed to start password reset", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleResetPassword(s authService, l logger.Logger) http.Handler {
	type request struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"new_password" validate:"required,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = s.ResetPassword(r.Context(), req.Token, req.NewPassword)

		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Password reset successfully"})
		case errors.Is(err, apperrors.ErrInvalidToken):
			render.ServiceError(w, "Invalid or expired reset token", http.StatusBadRequest)
		default:
			l.Error("Failed to reset password", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleChangePassword(s authService, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = s.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)

		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Password changed successfully"})
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Incorrect current password", http.StatusBadRequest)
		default:
			l.Error("Failed to change password", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
