//go:build integration

package containers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/datastore"
	"github.com/smartsafety/safetyvision/internal/logger"
)

var validTableNameRe = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*$`)

// MySQLContainer wraps a testcontainers MySQL instance opened through the
// datastore package, so tests exercise the same dialector and migrations as
// the service.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	settings  conf.DatabaseSettings
	db        *gorm.DB
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	Database string // default "safetyvision_test"
	Username string // default "testuser"
	Password string // default "testpass"
	ImageTag string // default "8.0"
}

// DefaultMySQLConfig returns a MySQLConfig with sensible defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "safetyvision_test",
		Username: "testuser",
		Password: "testpass",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts MySQL, opens it with datastore.Open and applies
// migrations. A nil config uses DefaultMySQLConfig.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig, log logger.Logger) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	container, err := mysql.Run(ctx, "mysql:"+config.ImageTag,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("invalid mapped port %q: %w", mappedPort.Port(), err)
	}

	settings := conf.DatabaseSettings{
		Type: "mysql",
		MySQL: conf.MySQLSettings{
			Host:     host,
			Port:     port,
			Username: config.Username,
			Password: config.Password,
			Database: config.Database,
		},
		SlowThreshold: conf.Duration(time.Second),
	}

	db, err := datastore.Open(&settings, log)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &MySQLContainer{container: container, settings: settings, db: db}, nil
}

// DB returns the shared gorm handle. Tests must not close it.
func (c *MySQLContainer) DB() *gorm.DB {
	return c.db
}

// Settings returns database settings pointing at the container.
func (c *MySQLContainer) Settings() conf.DatabaseSettings {
	return c.settings
}

// Reset empties the given tables with foreign key checks disabled.
func (c *MySQLContainer) Reset(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if !validTableNameRe.MatchString(table) {
			return fmt.Errorf("invalid table name: %q", table)
		}
	}

	return c.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return err
		}
		defer tx.Exec("SET FOREIGN_KEY_CHECKS = 1")
		for _, table := range tables {
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate %s: %w", table, err)
			}
		}
		return nil
	})
}

// Terminate closes the connection pool and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = datastore.Close(c.db)
	}
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
