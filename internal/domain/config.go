package domain

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are wired
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine
	Ingestion IngestionConfig `json:"ingestion"`
	Matching  MatchingConfig  `json:"matching"`
	Screening ScreeningConfig `json:"screening"`
	Batch     BatchConfig     `json:"batch"`
	Worker    WorkerConfig    `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxUploadBytes caps watchlist file uploads.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// IngestionConfig controls source adapters.
type IngestionConfig struct {
	UserAgent      string        `json:"userAgent"`
	RequestTimeout time.Duration `json:"requestTimeout"`
	MaxRetries     int           `json:"maxRetries"`
	// RetryBaseDelay is multiplied by the attempt number between retries.
	RetryBaseDelay time.Duration `json:"retryBaseDelay"`

	// A source whose failure counter within CircuitWindow exceeds
	// CircuitThreshold is skipped until the window rolls over.
	CircuitThreshold int           `json:"circuitThreshold"`
	CircuitWindow    time.Duration `json:"circuitWindow"`

	// Providers is keyed by lowercase provider code (rbi, sebi, ...).
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig is the per-provider fetch surface.
type ProviderConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
	// Categories maps category name to a sub-path or absolute URL.
	// Names are matched case-insensitively.
	Categories map[string]string `json:"categories"`
	// DeletionsPath names a feed listing external ids removed upstream.
	DeletionsPath string `json:"deletionsPath"`
}

// CategoryURL resolves the fetch URL of a category, if configured.
func (p ProviderConfig) CategoryURL(category string) (string, bool) {
	for name, path := range p.Categories {
		if strings.EqualFold(name, category) {
			return p.resolve(path), true
		}
	}
	return "", false
}

// DeletionsURL resolves the deletion feed URL, if configured.
func (p ProviderConfig) DeletionsURL() (string, bool) {
	if p.DeletionsPath == "" {
		return "", false
	}
	return p.resolve(p.DeletionsPath), true
}

func (p ProviderConfig) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// MatchingConfig controls the similarity scorer and matcher.
type MatchingConfig struct {
	Threshold float64          `json:"threshold"`
	Weights   SimilarityWeights `json:"weights"`
	// Workers bounds concurrent customers in batch matching.
	Workers int `json:"workers"`
}

// SimilarityWeights configures how sub-scores combine into the overall score.
type SimilarityWeights struct {
	Levenshtein            float64 `json:"levenshtein"`
	JaroWinkler            float64 `json:"jaroWinkler"`
	PrimaryPhoneticBoost   float64 `json:"primaryPhoneticBoost"`
	SecondaryPhoneticBoost float64 `json:"secondaryPhoneticBoost"`
}

// ScreeningConfig controls rescans.
type ScreeningConfig struct {
	// Rescan intervals per customer risk tier.
	RescanLow      time.Duration `json:"rescanLow"`
	RescanMedium   time.Duration `json:"rescanMedium"`
	RescanHigh     time.Duration `json:"rescanHigh"`
	RescanCritical time.Duration `json:"rescanCritical"`
}

// RescanInterval returns the interval for a tier; unknown tiers use Low.
func (s ScreeningConfig) RescanInterval(tier RiskLevel) time.Duration {
	switch tier {
	case RiskCritical:
		return s.RescanCritical
	case RiskHigh:
		return s.RescanHigh
	case RiskMedium:
		return s.RescanMedium
	default:
		return s.RescanLow
	}
}

// BatchConfig controls the batch coordinator.
type BatchConfig struct {
	Workers    int           `json:"workers"`
	BatchSize  int           `json:"batchSize"`
	BatchPause time.Duration `json:"batchPause"`
}

// WorkerConfig controls the scheduler collaborator.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`
	// IngestionInterval triggers all providers periodically; zero disables.
	IngestionInterval time.Duration `json:"ingestionInterval"`
	// RescanInterval triggers due-for-rescan screening; zero disables.
	RescanInterval time.Duration `json:"rescanInterval"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   60,
			MaxUploadBytes: 32 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			CorpusTTL:    time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ingestion: IngestionConfig{
			UserAgent:        "Mozilla/5.0 (compatible; KestrelWatchlist/1.0)",
			RequestTimeout:   30 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   2 * time.Second,
			CircuitThreshold: 10,
			CircuitWindow:    15 * time.Minute,
			Providers:        DefaultProviders(),
		},
		Matching: MatchingConfig{
			Threshold: 0.7,
			Weights: SimilarityWeights{
				Levenshtein:            0.5,
				JaroWinkler:            0.5,
				PrimaryPhoneticBoost:   0.05,
				SecondaryPhoneticBoost: 0.05,
			},
			Workers: 8,
		},
		Screening: ScreeningConfig{
			RescanLow:      30 * 24 * time.Hour,
			RescanMedium:   7 * 24 * time.Hour,
			RescanHigh:     24 * time.Hour,
			RescanCritical: 6 * time.Hour,
		},
		Batch: BatchConfig{
			Workers:    5,
			BatchSize:  50,
			BatchPause: time.Second,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		CorpusTTL:      time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Batch.Workers = 10
	cfg.Batch.BatchSize = 200
	cfg.Tracing.Enabled = true
	return cfg
}

// DefaultProviders returns the provider fetch surface with every provider disabled.
// Operators enable a provider by giving it a base URL.
func DefaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"rbi": {
			Categories: map[string]string{
				"Fraud Master":     "/fraud-master",
				"Wilful Defaulter": "/wilful-defaulters",
				"Caution List":     "/caution-list",
			},
		},
		"sebi": {
			Categories: map[string]string{"Debarred": "/debarred-entities"},
		},
		"unsc": {
			Categories: map[string]string{"Consolidated": "/consolidated.json"},
		},
		"ofac": {
			Categories: map[string]string{"SDN": "/sdn.csv"},
		},
		"pep": {
			Categories: map[string]string{"Domestic PEP": "/domestic", "Foreign PEP": "/foreign"},
		},
		"inhouse": {},
	}
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", ErrConfiguration, c.Repository.Driver)
	}
	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("%w: matching threshold must be in (0,1], got %v", ErrConfiguration, c.Matching.Threshold)
	}
	w := c.Matching.Weights
	if w.Levenshtein < 0 || w.JaroWinkler < 0 || w.Levenshtein+w.JaroWinkler == 0 {
		return fmt.Errorf("%w: similarity weights must be non-negative with a positive sum", ErrConfiguration)
	}
	if c.Batch.Workers < 1 || c.Batch.BatchSize < 1 {
		return fmt.Errorf("%w: batch workers and batch size must be positive", ErrConfiguration)
	}
	if c.Ingestion.MaxRetries < 1 {
		return fmt.Errorf("%w: ingestion max retries must be at least 1", ErrConfiguration)
	}
	for code, p := range c.Ingestion.Providers {
		if !p.Enabled || p.BaseURL != "" {
			continue
		}
		for category, path := range p.Categories {
			if !strings.Contains(path, "://") {
				return fmt.Errorf("%w: provider %s category %q has a relative path but no base url", ErrConfiguration, code, category)
			}
		}
	}
	return nil
}
