package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config selects the dialect and connection parameters.
type Config struct {
	Driver     string
	DSN        string
	MaxRetries int
	RetryDelay time.Duration
	LogLevel   logger.LogLevel
	// AutoMigrate creates the members table from the model. MySQL
	// deployments use cmd/migrate instead.
	AutoMigrate bool
}

// ConfigFromEnv reads DB_DRIVER, DB_*, DB_AUTO_MIGRATE and SQLITE_PATH.
func ConfigFromEnv() Config {
	driver := strings.ToLower(env.GetEnv("DB_DRIVER", DriverMySQL))
	cfg := Config{
		Driver:     driver,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		LogLevel:   logger.Warn,
		// sqlite has no migration files
		AutoMigrate: driver == DriverSQLite || env.GetBool("DB_AUTO_MIGRATE", false),
	}
	if env.IsDev() {
		cfg.LogLevel = logger.Info
	}

	switch driver {
	case DriverSQLite:
		cfg.DSN = env.GetEnv("SQLITE_PATH", "duesfox.db")
		cfg.MaxRetries = 1
	default:
		cfg.Driver = DriverMySQL
		// Billing dates are DATE columns; loc=UTC keeps them from shifting on read.
		cfg.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
	}
	return cfg
}

func dialector(cfg Config) gorm.Dialector {
	if cfg.Driver == DriverSQLite {
		return sqlite.Open(cfg.DSN)
	}
	return mysql.New(mysql.Config{
		DSN:                       cfg.DSN, // data source name
		DefaultStringSize:         256,     // default size for string fields
		DisableDatetimePrecision:  true,    // disable datetime precision, which not supported before MySQL 5.6
		DontSupportRenameIndex:    true,    // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
		DontSupportRenameColumn:   true,    // `change` when rename column, rename column not supported before MySQL 8, MariaDB
		SkipInitializeWithVersion: false,   // auto configure based on currently MySQL version
	})
}

// Open connects with retries and, if asked to, migrates the members table.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < cfg.MaxRetries; i++ {
		db, err = gorm.Open(dialector(cfg), &gorm.Config{
			Logger: logger.Default.LogMode(cfg.LogLevel),
		})
		if err == nil {
			break
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, cfg.MaxRetries, err)
		if i < cfg.MaxRetries-1 {
			log.Printf("Retry in %v...", cfg.RetryDelay)
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// one writer at a time; concurrent transactions queue on the pool
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.Member{}); err != nil {
			return nil, fmt.Errorf("migrate members: %w", err)
		}
	}
	return db, nil
}
