// Package datastore persists detections to SQLite or MySQL via GORM, the
// way the rest of this codebase has always talked to its database.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gaia-project/gaia-processing/internal/conf"
	"github.com/gaia-project/gaia-processing/internal/errors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps a GORM connection opened against either SQLite or MySQL,
// chosen at Open time from Settings.Output.
type Store struct {
	DB       *gorm.DB
	settings *conf.Settings
	metrics  *Metrics
}

// New constructs a Store bound to the given settings. Call Open before use.
func New(settings *conf.Settings, metrics *Metrics) *Store {
	return &Store{settings: settings, metrics: metrics}
}

// Open selects a backend from settings, connects, sets backend-specific
// pragmas, and runs auto-migration plus the idempotent source_node column
// backfill.
func (s *Store) Open() error {
	var (
		db  *gorm.DB
		err error
	)

	gormLogger := NewGormLogger(200*time.Millisecond, logger.Warn, s.metrics)

	switch {
	case s.settings.Output.MySQL.Enabled:
		db, err = s.openMySQL(gormLogger)
	case s.settings.Output.SQLite.Enabled:
		db, err = s.openSQLite(gormLogger)
	default:
		return errors.Newf("no output backend enabled in configuration").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		return err
	}

	if err := db.AutoMigrate(&Detection{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	migrateAddSourceNode(db)

	s.DB = db
	return nil
}

func (s *Store) openSQLite(gormLogger logger.Interface) (*gorm.DB, error) {
	dbPath := s.settings.Output.SQLite.Path

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategorySystem).
			Context("operation", "create_database_directory").
			Context("directory", filepath.Dir(dbPath)).
			Build()
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite_database").
			Context("db_path", dbPath).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_underlying_sqldb").
			Build()
	}

	// Busy-retry at the driver level; Insert additionally retries at the
	// call level per the original node's 3-attempt/2s-sleep policy.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			getLogger().Warn("failed to set sqlite pragma", "pragma", pragma, "error", err)
		}
	}

	getLogger().Info("opened sqlite datastore", "path", dbPath)
	return db, nil
}

func (s *Store) openMySQL(gormLogger logger.Interface) (*gorm.DB, error) {
	m := s.settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.Username, m.Password, m.Host, m.Port, m.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql_database").
			Context("host", m.Host).
			Context("database", m.Database).
			Build()
	}

	getLogger().Info("opened mysql datastore", "host", m.Host, "database", m.Database)
	return db, nil
}

// migrateAddSourceNode adds the source_node column to pre-existing
// databases that predate it. AutoMigrate already does this for both
// SQLite and MySQL, but the explicit best-effort ALTER TABLE mirrors the
// node's historical migration path and tolerates a column that already
// exists under a GORM version that renders the DDL differently.
func migrateAddSourceNode(db *gorm.DB) {
	if err := db.Exec(`ALTER TABLE detections ADD COLUMN source_node TEXT DEFAULT ''`).Error; err != nil {
		getLogger().Debug("source_node column migration skipped (likely already present)", "error", err)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_underlying_sqldb").
			Build()
	}
	return sqlDB.Close()
}

// Optimize runs VACUUM/ANALYZE. MySQL ignores it; SQLite reclaims space
// from WAL churn after a long run.
func (s *Store) Optimize(ctx context.Context) error {
	if s.settings.Output.MySQL.Enabled {
		return nil
	}
	if err := s.DB.WithContext(ctx).Exec("ANALYZE").Error; err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("operation", "analyze").Build()
	}
	if err := s.DB.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("operation", "vacuum").Build()
	}
	return nil
}
