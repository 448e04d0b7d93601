// Package config builds the collector's configuration from the environment,
// an optional .env file and an optional workload file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"airtablecollector/models"
)

// Config represents the complete application configuration
type Config struct {
	BaseID              string `envconfig:"VITE_AIRTABLE_BASE_ID" required:"true" validate:"required"`
	APIKey              string `envconfig:"VITE_AIRTABLE_API_KEY" required:"true" validate:"required"`
	CustomerTableID     string `envconfig:"VITE_AIRTABLE_CUSTOMER_ID"`
	TransactionsTableID string `envconfig:"VITE_AIRTABLE_TRANSACTIONS_ID"`

	Airtable AirtableConfig `envconfig:"AIRTABLE"`
	Export   ExportConfig   `envconfig:"EXPORT"`
	Logging  LoggingConfig  `envconfig:"LOG"`
	Ledger   LedgerConfig   `envconfig:"LEDGER_DB"`
	Report   ReportConfig   `envconfig:"REPORT"`

	MetricsTextfile string `envconfig:"METRICS_TEXTFILE"`

	// Exports is filled from the workload file or the two default tables
	Exports []models.Export `ignored:"true" validate:"required,min=1,dive"`
}

// AirtableConfig contains API client settings
type AirtableConfig struct {
	APIURL    string        `envconfig:"API_URL" default:"https://api.airtable.com/v0" validate:"required,url"`
	RateLimit float64       `envconfig:"RATE_LIMIT" default:"5" validate:"gte=0"`
	PageSize  int           `envconfig:"PAGE_SIZE" default:"100" validate:"min=1,max=100"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// ExportConfig contains CSV export settings
type ExportConfig struct {
	StagingDir      string `envconfig:"STAGING_DIR" default:"."`
	HeaderPolicy    string `envconfig:"HEADER_POLICY" default:"first" validate:"oneof=first union strict"`
	IncludeRecordID bool   `envconfig:"INCLUDE_RECORD_ID" default:"false"`
	Workers         int    `envconfig:"WORKERS" default:"1" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"FORMAT" default:"text" validate:"oneof=text json"`
	SeqURL string `envconfig:"SEQ_URL" validate:"omitempty,url"`
}

// LedgerConfig contains the optional export ledger database settings
type LedgerConfig struct {
	Type     string `envconfig:"TYPE" validate:"omitempty,oneof=mysql postgres"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"NAME" validate:"required_with=Type"`
	SSLMode  string `envconfig:"SSLMODE"`
}

// Enabled reports whether a ledger database was configured
func (l LedgerConfig) Enabled() bool {
	return l.Type != ""
}

// ReportConfig contains the post-run summary and bundle settings
type ReportConfig struct {
	BalanceField  string `envconfig:"BALANCE_FIELD"`
	BalanceExport string `envconfig:"BALANCE_EXPORT" default:"customers"`
	BundleDir     string `envconfig:"BUNDLE_DIR" default:"."`
	BundlePrefix  string `envconfig:"BUNDLE_PREFIX" default:"etb_credit_report"`
}

// Load loads configuration from the environment, the given .env files and
// the optional workload file
func Load(workloadPath string, envFiles ...string) (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
		slog.Warn(".env file not found, using process environment", slog.Any("error", err))
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if workloadPath != "" {
		workload, err := models.LoadWorkloadConfig(workloadPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load workload: %w", err)
		}
		cfg.applyWorkload(workload)
	}

	if len(cfg.Exports) == 0 {
		cfg.Exports = cfg.DefaultExports()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultExports returns the customers and transactions exports
func (c *Config) DefaultExports() []models.Export {
	return []models.Export{
		{Name: "customers", TableID: c.CustomerTableID, OutputPath: "./customers/"},
		{Name: "transactions", TableID: c.TransactionsTableID, OutputPath: "./transactions/"},
	}
}

func (c *Config) applyWorkload(w *models.Workload) {
	if w.Workers > 0 {
		c.Export.Workers = w.Workers
	}
	if len(w.Exports) > 0 {
		c.Exports = w.Exports
	}
}

// HeaderPolicy returns the configured header policy
func (c *Config) HeaderPolicy() models.HeaderPolicy {
	return models.HeaderPolicy(c.Export.HeaderPolicy)
}

// Validate checks struct rules and that no two exports share a destination
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	seen := make(map[string]string, len(c.Exports))
	for _, e := range c.Exports {
		dir := filepath.Clean(e.OutputPath)
		if other, ok := seen[dir]; ok {
			return fmt.Errorf("exports %s and %s share output path %s", other, e.Label(), dir)
		}
		seen[dir] = e.Label()
	}
	return nil
}
