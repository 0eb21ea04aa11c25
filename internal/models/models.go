package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a provisioned account allowed to host or view sessions.
// Accounts are created out of band (admin API or seeding); the relay itself
// only ever updates LastLoginAt.
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex"`
	PasswordHash string
	// APIKey is an opaque token issued at provisioning time and returned
	// to the peer on successful authentication.
	APIKey      string `gorm:"uniqueIndex"`
	LastLoginAt *time.Time
	IsActive    bool `gorm:"default:true"`
}

// SessionRecord is the persisted trail of a relay session. The in-memory
// registry is the source of truth for liveness; these rows exist for
// operational history and survive restarts.
type SessionRecord struct {
	ID             string `gorm:"primaryKey"`
	HostUsername   string
	DisplayName    string
	CreatedAt      time.Time
	LastActivityAt time.Time
	IsActive       bool `gorm:"default:true"`
}
