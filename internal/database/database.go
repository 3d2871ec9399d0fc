package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Connect(cfg *config.Config) *gorm.DB {
	dialector, err := Dialector(cfg)
	if err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to auto migrate: %v", err)
	}

	return db
}

// Dialector picks the gorm driver for DATABASE_DRIVER.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DatabaseDriver {
	case "", "sqlite":
		return sqlite.Open(SQLiteDSN(cfg.DatabasePath)), nil
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("DATABASE_DSN is required for the postgres driver")
		}
		return postgres.Open(cfg.DatabaseDSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// SQLiteDSN makes transactions take the write lock at BEGIN. A deferred
// transaction that reads and then writes fails with "database is locked" when
// another writer got there first, instead of waiting and re-reading.
func SQLiteDSN(path string) string {
	var params []string
	if !strings.Contains(path, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(path, "_busy_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Location{},
		&models.Registration{},
		&models.RegistrationLog{},
		&models.APIKey{},
	); err != nil {
		return err
	}

	// A student has at most one pending or needs_revision registration.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_registrations_one_open
		ON registrations (student_id)
		WHERE status IN ('pending', 'needs_revision') AND deleted_at IS NULL`).Error
}
