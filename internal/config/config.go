package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Auth           AuthConfig           `yaml:"auth"`
	Bidding        BiddingConfig        `yaml:"bidding"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	// Migrate applies the bundled schema on startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port serves the auction API (leader only).
	Port int `yaml:"port"`
	// HealthPort serves /healthz and /readyz on every replica.
	HealthPort      int           `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// AuthConfig holds session credential settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// Increment policies accepted by BiddingConfig.IncrementPolicy.
const (
	IncrementStrict = "strict"
	IncrementTiered = "tiered"
)

// BiddingConfig tunes the bid arbiter.
type BiddingConfig struct {
	// MaxAttempts bounds compare-and-apply retries for one bid.
	MaxAttempts int `yaml:"max_attempts"`
	// Timeout bounds a single PlaceBid call end to end.
	Timeout time.Duration `yaml:"timeout"`
	// WriteTimeout bounds the store write inside the commit section.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RetryBackoff is the base pause between contended attempts.
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	IncrementPolicy string        `yaml:"increment_policy"`
	// TierThreshold and the two steps configure the tiered policy.
	TierThreshold decimal.Decimal `yaml:"tier_threshold"`
	LowStep       decimal.Decimal `yaml:"low_step"`
	HighStep      decimal.Decimal `yaml:"high_step"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			HealthPort:      8081,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		Bidding: BiddingConfig{
			MaxAttempts:     5,
			Timeout:         3 * time.Second,
			WriteTimeout:    2 * time.Second,
			RetryBackoff:    2 * time.Millisecond,
			IncrementPolicy: IncrementStrict,
			TierThreshold:   decimal.NewFromInt(5),
			LowStep:         decimal.RequireFromString("0.2"),
			HighStep:        decimal.RequireFromString("0.5"),
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	switch c.Bidding.IncrementPolicy {
	case IncrementStrict, IncrementTiered:
	default:
		return fmt.Errorf("unsupported increment policy %q", c.Bidding.IncrementPolicy)
	}
	if c.Bidding.MaxAttempts < 1 {
		return fmt.Errorf("bidding.max_attempts must be at least 1, got %d", c.Bidding.MaxAttempts)
	}
	if c.Bidding.Timeout <= 0 || c.Bidding.WriteTimeout <= 0 {
		return fmt.Errorf("bidding timeouts must be positive")
	}
	if c.Bidding.IncrementPolicy == IncrementTiered {
		if !c.Bidding.TierThreshold.IsPositive() || !c.Bidding.LowStep.IsPositive() || !c.Bidding.HighStep.IsPositive() {
			return fmt.Errorf("bidding: tiered threshold and steps must be positive")
		}
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	return nil
}
