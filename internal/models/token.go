package models

import (
	"time"
)

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenReset   TokenKind = "password_reset"
)

// Whether tokens of the kind are bound to a session
func (k TokenKind) HasSession() bool {
	return k == TokenAccess || k == TokenRefresh
}

func (k TokenKind) Valid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenReset:
		return true
	default:
		return false
	}
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by AuthService on login and refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken

	// Access token lifetime, rendered as 'expires_in'
	ExpiresIn time.Duration
}
