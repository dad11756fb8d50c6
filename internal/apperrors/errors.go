package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Returned for unknown email and for wrong password alike
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")

	// Bad signature, expired, malformed, missing claims or wrong token kind
	ErrInvalidToken = errors.New("invalid token")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session is inactive or expired")

	ErrEmailDelivery = errors.New("email delivery failed")
)
