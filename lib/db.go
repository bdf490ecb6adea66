package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaymail/relaymail/models"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB connects to the configured database. The driver is one of sqlite,
// postgres or mysql; sqlite treats the URI as a file path.
func OpenDB(cfg DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.URI)
	case "mysql":
		dialector = mysql.Open(cfg.URI)
	case "sqlite", "sqlite3", "":
		if dir := filepath.Dir(cfg.URI); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		dialector = sqlite.Open(cfg.URI)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	logMode := logger.Silent
	if cfg.LogQueries {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	switch driver {
	case "postgres", "postgresql", "mysql":
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	default:
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigration {
		if err := Migrate(db); err != nil {
			return nil, err
		}
		log.Info("database migrated", zap.String("driver", driver))
	}
	return db, nil
}

// Migrate creates or updates the accounts, api_keys and email_logs tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Accounts{},
		&models.ApiKeys{},
		&models.EmailLogs{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// CloseDB releases the underlying connection pool.
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
