package p2pnftsd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"p2pnfts/gateway/middleware"
	"p2pnfts/observability/logging"
)

const (
	defaultListen        = ":8080"
	defaultGRPCListen    = ":9090"
	defaultMetricsListen = ":9100"
	defaultSubjectPrefix = "p2pnfts.events"
	defaultCacheEntries  = 10_000
)

// Config captures the runtime settings of the market daemon.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	GRPCAddress    string          `yaml:"grpc_listen"`
	MetricsAddress string          `yaml:"metrics_listen"`
	GenesisPath    string          `yaml:"genesis"`
	Storage        StorageConfig   `yaml:"storage"`
	Indexer        IndexerConfig   `yaml:"indexer"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimits     RateLimitConfig `yaml:"rate_limits"`
	Log            LogConfig       `yaml:"log"`
	NATS           NATSConfig      `yaml:"nats"`
	Cache          CacheConfig     `yaml:"cache"`
	DevEndpoints   bool            `yaml:"dev_endpoints"`
}

// StorageConfig selects the key-value backend for market and controller
// state. Backend is "memory", "leveldb" or "bolt".
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// IndexerConfig points the loan indexer at a database. An empty driver
// disables indexing.
type IndexerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	SecretEnv  string        `yaml:"hmac_secret_env"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scope_claim"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig holds per-route-group request budgets.
type RateLimitConfig struct {
	Read  RateLimit `yaml:"read"`
	Write RateLimit `yaml:"write"`
}

type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Env        string `yaml:"env"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NATSConfig enables publishing events to NATS when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type CacheConfig struct {
	MaxLoans int64 `yaml:"max_loans"`
}

// LoadConfig reads the YAML configuration from disk and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig is an in-memory devnet daemon without auth.
func DefaultConfig() Config {
	return Config{
		ListenAddress:  defaultListen,
		GRPCAddress:    defaultGRPCListen,
		MetricsAddress: defaultMetricsListen,
		GenesisPath:    "genesis.toml",
		Storage:        StorageConfig{Backend: "memory"},
		Log:            LogConfig{Level: "info", Env: "dev"},
		Cache:          CacheConfig{MaxLoans: defaultCacheEntries},
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.GRPCAddress = strings.TrimSpace(cfg.GRPCAddress)
	cfg.MetricsAddress = strings.TrimSpace(cfg.MetricsAddress)
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	if env := strings.TrimSpace(cfg.Auth.SecretEnv); env != "" && cfg.Auth.HMACSecret == "" {
		cfg.Auth.HMACSecret = os.Getenv(env)
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.NATS.URL = strings.TrimSpace(cfg.NATS.URL)
	if strings.TrimSpace(cfg.NATS.SubjectPrefix) == "" {
		cfg.NATS.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.Cache.MaxLoans <= 0 {
		cfg.Cache.MaxLoans = defaultCacheEntries
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.GenesisPath == "" {
		return fmt.Errorf("genesis path required")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch cfg.Indexer.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Indexer.DSN == "" {
			return fmt.Errorf("indexer: dsn required for %s", cfg.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unknown driver %q", cfg.Indexer.Driver)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret or hmac_secret_env required when enabled")
	}
	for name, limit := range map[string]RateLimit{"read": cfg.RateLimits.Read, "write": cfg.RateLimits.Write} {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: negative budget", name)
		}
	}
	return nil
}

// Middleware converts the auth settings into the gateway middleware form.
func (cfg AuthConfig) Middleware() middleware.AuthConfig {
	return middleware.AuthConfig{
		Enabled:    cfg.Enabled,
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		ScopeClaim: cfg.ScopeClaim,
		ClockSkew:  cfg.ClockSkew,
	}
}

// Limits returns the configured route groups; groups without a budget are
// left unthrottled.
func (cfg RateLimitConfig) Limits() map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit)
	if cfg.Read.RequestsPerMinute > 0 {
		out[groupRead] = middleware.RateLimit{RequestsPerMinute: cfg.Read.RequestsPerMinute, Burst: cfg.Read.Burst}
	}
	if cfg.Write.RequestsPerMinute > 0 {
		out[groupWrite] = middleware.RateLimit{RequestsPerMinute: cfg.Write.RequestsPerMinute, Burst: cfg.Write.Burst}
	}
	return out
}

func (cfg LogConfig) Options() logging.Options {
	return logging.Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
