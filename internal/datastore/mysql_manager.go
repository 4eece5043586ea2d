package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// MySQLManager handles a MySQL database.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// NewMySQLManager connects to the MySQL database described by cfg.
func NewMySQLManager(cfg *conf.MySQLSettings) (*MySQLManager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", "mysql").
			Build()
	}

	return &MySQLManager{
		db:       db,
		location: fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Initialize creates the schema and seeds initial data.
func (m *MySQLManager) Initialize(modelTypes []string) error {
	return initialize(m.db, modelTypes)
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB { return m.db }

// Path returns host:port/database.
func (m *MySQLManager) Path() string { return m.location }

// IsMySQL returns true.
func (m *MySQLManager) IsMySQL() bool { return true }

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	return closeDB(m.db)
}
