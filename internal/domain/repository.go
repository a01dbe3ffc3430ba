// Package domain defines the core types and collaborator interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository is the persistence collaborator for the watchlist corpus,
// customers, alerts, jobs and run history.
type Repository interface {
	// Watchlist corpus
	FindEntry(ctx context.Context, source, externalID string) (*WatchlistEntry, bool, error)
	GetEntry(ctx context.Context, id string) (*WatchlistEntry, error)
	InsertEntry(ctx context.Context, entry *WatchlistEntry) error
	UpdateEntry(ctx context.Context, entry *WatchlistEntry) error
	DeactivateEntries(ctx context.Context, source string, externalIDs []string) (int, error)
	SetWhitelisted(ctx context.Context, id string, whitelisted bool) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]*WatchlistEntry, error)

	// Customers
	SaveCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	MarkScreened(ctx context.Context, customerID string, at time.Time) error
	ListCustomersScreenedBefore(ctx context.Context, tier RiskLevel, before time.Time) ([]*Customer, error)

	// Alerts
	FindOpenAlert(ctx context.Context, customerID, entryID string) (*Alert, bool, error)
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlertsByCustomer(ctx context.Context, customerID string) ([]*Alert, error)

	// Screening jobs
	SaveScreeningJob(ctx context.Context, job *ScreeningJob) error
	GetScreeningJob(ctx context.Context, id string) (*ScreeningJob, error)

	// Ingestion run history
	SaveRunResult(ctx context.Context, result *RunResult) error
	ListRunResults(ctx context.Context, source string, limit int) ([]*RunResult, error)

	// Compliance rules
	SaveComplianceRule(ctx context.Context, rule *ComplianceRule) error
	ListComplianceRules(ctx context.Context) ([]*ComplianceRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"postgresPassword"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// DSN overrides the individual postgres fields when set.
	DSN string `json:"dsn"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
