// Package datastore opens the gorm database and applies migrations.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

const (
	mysqlMaxOpenConns    = 25
	mysqlMaxIdleConns    = 5
	mysqlConnMaxLifetime = 30 * time.Minute
)

// Models lists every persisted entity in migration order.
func Models() []any {
	return []any{
		&entities.AlertRule{},
		&entities.TriggeredAlert{},
		&entities.DispatchMark{},
	}
}

// Open connects to the configured backend and migrates the schema.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch settings.Type {
	case conf.DatabaseSQLite:
		// WAL with a busy timeout lets the API read while the engine writes.
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", settings.Path)
		dialector = sqlite.Open(dsn)
	case conf.DatabaseMySQL:
		dialector = mysql.Open(settings.DSN)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	level := gorm_logger.Silent
	if settings.Debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gorm_logger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", settings.Type, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to get sql.DB: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if settings.Type == conf.DatabaseSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
		sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
		sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info("database ready", logger.String("type", settings.Type))
	return db, nil
}

// Migrate creates or updates the schema for every model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
