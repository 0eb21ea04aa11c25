package storage

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "screenrelay/internal/errors"
	"screenrelay/internal/models"
)

// MaxCredentialLen bounds untrusted username and password input. Anything
// longer is rejected before touching the database.
const MaxCredentialLen = 256

// dummyHash is compared against when the username does not resolve, so the
// handshake costs one bcrypt verification whether or not the user exists.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// SQLiteStore persists users and session records in a local SQLite file
// via gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateUser provisions a new account with a bcrypt password hash and a
// fresh API key. Returns apperrors.ErrDuplicateKey if the username is taken.
func (s *SQLiteStore) CreateUser(username, password string) (*models.User, error) {
	if username == "" || len(username) > MaxCredentialLen || len(password) > MaxCredentialLen {
		return nil, errors.New("username or password out of bounds")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		APIKey:       uuid.NewString(),
		IsActive:     true,
	}
	if err := s.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", username, apperrors.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies a username/password pair and stamps LastLoginAt on
// success. Unknown user, wrong password, inactive account and storage
// faults all collapse to apperrors.ErrAuthFailed; storage faults are
// additionally logged here so they stay visible to the operator.
func (s *SQLiteStore) Authenticate(username, password string) (*models.User, error) {
	if username == "" || len(username) > MaxCredentialLen || len(password) > MaxCredentialLen {
		return nil, apperrors.ErrAuthFailed
	}

	var user models.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("storage: user lookup failed: %v", err)
		}
		// Burn a comparison so a missing user costs the same as a
		// wrong password.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, apperrors.ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrAuthFailed
	}
	if !user.IsActive {
		return nil, apperrors.ErrAuthFailed
	}

	now := time.Now()
	if err := s.db.Model(&user).Update("last_login_at", now).Error; err != nil {
		log.Printf("storage: failed to update last login for %s: %v", username, err)
	}
	user.LastLoginAt = &now

	return &user, nil
}

// SetUserActive flips the active flag for an account.
func (s *SQLiteStore) SetUserActive(username string, active bool) error {
	res := s.db.Model(&models.User{}).Where("username = ?", username).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set user active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %q: %w", username, gorm.ErrRecordNotFound)
	}
	return nil
}

// RecordSession inserts the durable row for a newly created session.
func (s *SQLiteStore) RecordSession(rec *models.SessionRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// CloseSessionRecord marks the session row inactive and stores its final
// activity timestamp. Closing an already-closed or unknown record is not
// an error.
func (s *SQLiteStore) CloseSessionRecord(id string, lastActivity time.Time) error {
	err := s.db.Model(&models.SessionRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "last_activity_at": lastActivity}).Error
	if err != nil {
		return fmt.Errorf("close session record: %w", err)
	}
	return nil
}

// ActiveSessionRecords returns the persisted rows still marked active.
func (s *SQLiteStore) ActiveSessionRecords() ([]models.SessionRecord, error) {
	var recs []models.SessionRecord
	if err := s.db.Where("is_active = ?", true).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedData provisions a default account for local development if the users
// table is empty.
func (s *SQLiteStore) SeedData() {
	var count int64
	s.db.Model(&models.User{}).Count(&count)
	if count == 0 {
		log.Println("Seeding test data...")
		if _, err := s.CreateUser("admin", "admin123"); err != nil {
			log.Printf("Seeding failed: %v", err)
			return
		}
		log.Println("Seeding complete. Use admin/admin123")
	}
}

// isUniqueViolation matches the sqlite driver's unique-constraint error,
// which gorm does not always translate to ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
