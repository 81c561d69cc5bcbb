//go:build integration

package containers

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// validTableNameRe matches valid MySQL identifier names.
var validTableNameRe = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*$`)

// MySQLContainer wraps a testcontainers MySQL instance and a gorm handle to it.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *gorm.DB
	dsn       string
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
	// MaxOpenConns sizes the pool; concurrency tests need more than one.
	MaxOpenConns int
}

// DefaultMySQLConfig returns a MySQLConfig with sensible defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database:     "agrialert_test",
		Username:     "testuser",
		Password:     "testpass",
		ImageTag:     "8.0",
		MaxOpenConns: 25,
	}
}

// NewMySQLContainer creates and starts a MySQL container with the given config.
// If config is nil, uses DefaultMySQLConfig().
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	c, err := mysql.Run(ctx, "mysql:"+config.ImageTag,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	// gorm needs parseTime to scan DATETIME columns into time.Time.
	dsn, err := c.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ping := func() error { return sqlDB.PingContext(ctx) }
	if err := RetryWithBackoff(ctx, 5, 500*time.Millisecond, 5*time.Second, ping); err != nil {
		_ = sqlDB.Close()
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLContainer{container: c, db: db, dsn: dsn}, nil
}

// DB returns the shared gorm handle. Tests must not close it.
func (c *MySQLContainer) DB() *gorm.DB {
	return c.db
}

// GetDSN returns the MySQL DSN for the container.
func (c *MySQLContainer) GetDSN() string {
	return c.dsn
}

// Reset truncates the given tables with foreign key checks disabled.
func (c *MySQLContainer) Reset(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if !validTableNameRe.MatchString(table) {
			return fmt.Errorf("invalid table name: %s", table)
		}
	}

	return c.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return fmt.Errorf("failed to disable foreign key checks: %w", err)
		}
		for _, table := range tables {
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate table %s: %w", table, err)
			}
		}
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 1").Error; err != nil {
			return fmt.Errorf("failed to enable foreign key checks: %w", err)
		}
		return nil
	})
}

// Terminate closes the connection pool and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		c.db = nil
	}
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}
