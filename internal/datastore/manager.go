// Package datastore opens the relational store backing the training pipeline
// and owns its schema lifecycle.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// slowQueryThreshold is the duration after which queries are logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates the schema and seeds model types and statuses.
	Initialize(modelTypes []string) error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location for display.
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Open returns the manager selected by settings.Type.
func Open(settings *conf.DatabaseSettings) (Manager, error) {
	switch settings.Type {
	case conf.DatabaseSQLite, "":
		return NewSQLiteManager(settings.SQLite.Path)
	case conf.DatabaseMySQL:
		return NewMySQLManager(&settings.MySQL)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SQLiteManager handles the SQLite database.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens (and creates if needed) the SQLite database at dbPath.
func NewSQLiteManager(dbPath string) (*SQLiteManager, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(fmt.Errorf("failed to create database directory: %w", err)).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Build()
		}
	}

	// Build DSN with recommended SQLite pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", "sqlite").
			Build()
	}

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize creates the schema and seeds initial data.
func (m *SQLiteManager) Initialize(modelTypes []string) error {
	return initialize(m.db, modelTypes)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB { return m.db }

// Path returns the database file path.
func (m *SQLiteManager) Path() string { return m.dbPath }

// IsMySQL returns false.
func (m *SQLiteManager) IsMySQL() bool { return false }

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	return closeDB(m.db)
}

// initialize migrates all entities and seeds lookup tables. It is idempotent.
func initialize(db *gorm.DB, modelTypes []string) error {
	err := db.AutoMigrate(
		&entities.ModelType{},
		&entities.Status{},
		&entities.Image{},
		&entities.DetectionObject{},
		&entities.ImageObjectLink{},
		&entities.TrainingRun{},
	)
	if err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	for _, status := range entities.DefaultStatuses() {
		if err := db.Where("title = ?", status.Title).FirstOrCreate(&status).Error; err != nil {
			return fmt.Errorf("failed to seed status %s: %w", status.Title, err)
		}
	}

	for _, title := range modelTypes {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		modelType := entities.ModelType{Title: title}
		if err := db.Where("title = ?", title).FirstOrCreate(&modelType).Error; err != nil {
			return fmt.Errorf("failed to seed model type %s: %w", title, err)
		}
	}

	GetLogger().Debug("schema initialized", logger.Int("model_types", len(modelTypes)))
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
