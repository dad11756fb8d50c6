package models

import (
	"time"

	"github.com/google/uuid"
)

// Client metadata captured at login
type DeviceInfo struct {
	UserAgent string
	IPAddress string
	Device    string // free-form descriptor sent by the client
}

// Session is one login instance. It outlives any single token issued for it
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Device         DeviceInfo
	IsActive       bool
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Session is valid only while active and strictly before its expiry
func (s Session) IsValid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}
