package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"burn-settlement-system/models"
)

const sqlitePrefix = "sqlite:"

// ErrDSNRequired is returned when no database DSN is configured.
var ErrDSNRequired = errors.New("database dsn must be configured")

// Open connects to Postgres, or to SQLite when the DSN starts with "sqlite:",
// and applies the schema. SQLite stores numeric columns as REAL, so it is
// for tests only; config refuses it for the service.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(trimmed, sqlitePrefix))
	} else {
		dialector = postgres.Open(trimmed)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if strings.HasPrefix(trimmed, sqlitePrefix) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// SQLite has a single writer; queue writers on one connection instead
		// of surfacing "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
