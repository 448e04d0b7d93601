// Package database keeps a ledger of export runs.
//
// Only run metadata is stored (which table, where the file went, how many rows,
// how it ended). Record contents never reach the database.
package database

import (
	"fmt"
	"log"
	"time"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"airtablecollector/mysql"
)

// Config holds database configuration
type Config struct {
	Type     string // "mysql" or "postgres"
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // For PostgreSQL
}

// ExportRun is one row of the ledger
type ExportRun struct {
	ID         uint      `gorm:"primaryKey"`
	RunID      string    `gorm:"size:36;index"`
	Name       string    `gorm:"size:128"`
	TableID    string    `gorm:"size:64;index"`
	OutputPath string    `gorm:"size:512"`
	FilePath   string    `gorm:"size:512"`
	Status     string    `gorm:"size:32"`
	Records    int       `gorm:"not null;default:0"`
	Rows       int       `gorm:"not null;default:0"`
	Dropped    int       `gorm:"not null;default:0"`
	Error      string    `gorm:"type:text"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
}

// Dialector returns the gorm dialector for config without connecting
func Dialector(config Config) (gorm.Dialector, error) {
	switch config.Type {
	case "mysql":
		return gormmysql.Open(mysql.DSN(mysql.DBConfig{
			Host:     config.Host,
			Port:     config.Port,
			User:     config.User,
			Password: config.Password,
			Database: config.Database,
		})), nil

	case "postgres":
		return postgres.Open(PostgresDSN(config)), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported types: mysql, postgres)", config.Type)
	}
}

// PostgresDSN builds a key/value connection string for PostgreSQL
func PostgresDSN(config Config) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable" // Default SSL mode
	}
	port := config.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		config.Host, config.User, config.Password, config.Database, port, sslMode)
}

// Connect establishes a connection to the database using GORM
func Connect(config Config) (*gorm.DB, error) {
	dialector, err := Dialector(config)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error accessing underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Minute * 3)

	// Check if connection is working
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the ledger table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ExportRun{}); err != nil {
		return fmt.Errorf("error migrating ledger: %w", err)
	}
	return nil
}

// RecordRuns stores the outcome of every export of a run
func RecordRuns(db *gorm.DB, runs []ExportRun) error {
	if len(runs) == 0 {
		return nil
	}
	if err := db.Create(&runs).Error; err != nil {
		return fmt.Errorf("error writing ledger: %w", err)
	}
	return nil
}

// Close safely closes the database connection
func Close(db *gorm.DB) error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("error accessing SQL DB: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}
