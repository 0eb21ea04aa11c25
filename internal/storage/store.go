package storage

import (
	"time"

	"screenrelay/internal/models"
)

// Store defines the interface for data persistence operations.
// This allows for easy testing with mock implementations and
// potential future support for different storage backends.
type Store interface {
	// User operations
	CreateUser(username, password string) (*models.User, error)
	Authenticate(username, password string) (*models.User, error)
	SetUserActive(username string, active bool) error

	// Session record operations. The in-memory registry owns liveness;
	// records are the durable trail written at create and close time.
	RecordSession(rec *models.SessionRecord) error
	CloseSessionRecord(id string, lastActivity time.Time) error
	ActiveSessionRecords() ([]models.SessionRecord, error)

	// Lifecycle
	Close() error
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
