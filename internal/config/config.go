// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"` // advertised in the agent card
	Workers int    `yaml:"workers"`  // handler pool size
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ReplayTTL time.Duration `yaml:"replay_ttl"` // message-id replay window
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type LedgerConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	Chain     string        `yaml:"chain"`
	Token     string        `yaml:"token"`
	Sandbox   bool          `yaml:"sandbox"`
	MaxRetry  int           `yaml:"max_retry"`
	RetryBase time.Duration `yaml:"retry_base"`
}

type DirectoryConfig struct {
	BaseURL      string        `yaml:"base_url"`
	RefreshEvery time.Duration `yaml:"refresh_every"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ValidationConfig struct {
	DefaultMethod string        `yaml:"default_method"` // client_attestation|oracle|zk_proof
	OracleURL     string        `yaml:"oracle_url"`
	VerifierURL   string        `yaml:"verifier_url"`
	DisputeWindow time.Duration `yaml:"dispute_window"` // auto-revert after this
	SweepEvery    time.Duration `yaml:"sweep_every"`
}

type NegotiationConfig struct {
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	AuctionTick      time.Duration `yaml:"auction_tick"`
	AuctionDeadline  time.Duration `yaml:"auction_deadline"`
	BidRateLimit     int           `yaml:"bid_rate_limit"` // bids/minute/bidder
}

type FeesConfig struct {
	Currency    string `yaml:"currency"`
	RaiseMicros int64  `yaml:"raise_micros"` // x402 fee for RAISE_TASK_JOB
	BidMicros   int64  `yaml:"bid_micros"`   // x402 fee per auction bid
}

type SecurityConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	AMQP        AMQPConfig        `yaml:"amqp"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Validation  ValidationConfig  `yaml:"validation"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Fees        FeesConfig        `yaml:"fees"`
	Security    SecurityConfig    `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Ledger.BaseURL == "" && !dev {
		return nil, errors.New("ledger.base_url is required outside dev mode")
	}
	if cfg.Security.JWTSecret == "" {
		return nil, errors.New("security.jwt_secret is required")
	}
	switch cfg.Validation.DefaultMethod {
	case "client_attestation", "oracle", "zk_proof":
	default:
		return nil, fmt.Errorf("validation.default_method %q unknown", cfg.Validation.DefaultMethod)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults fills zero values in place.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8910
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Server.Workers <= 0 {
		cfg.Server.Workers = 8
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.ReplayTTL <= 0 {
		cfg.Redis.ReplayTTL = 24 * time.Hour
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "ostrid.events"
	}
	if cfg.Ledger.Timeout <= 0 {
		cfg.Ledger.Timeout = 15 * time.Second
	}
	if cfg.Ledger.MaxRetry <= 0 {
		cfg.Ledger.MaxRetry = 3
	}
	if cfg.Ledger.RetryBase <= 0 {
		cfg.Ledger.RetryBase = 200 * time.Millisecond
	}
	if cfg.Ledger.Chain == "" {
		cfg.Ledger.Chain = "sui"
	}
	if cfg.Ledger.Token == "" {
		cfg.Ledger.Token = "USDC"
	}
	if cfg.Directory.RefreshEvery <= 0 {
		cfg.Directory.RefreshEvery = time.Minute
	}
	if cfg.Directory.Timeout <= 0 {
		cfg.Directory.Timeout = 10 * time.Second
	}
	if cfg.Validation.DefaultMethod == "" {
		cfg.Validation.DefaultMethod = "client_attestation"
	}
	if cfg.Validation.DisputeWindow <= 0 {
		cfg.Validation.DisputeWindow = 24 * time.Hour
	}
	if cfg.Validation.SweepEvery <= 0 {
		cfg.Validation.SweepEvery = time.Minute
	}
	if cfg.Negotiation.DiscoveryTimeout <= 0 {
		cfg.Negotiation.DiscoveryTimeout = 5 * time.Second
	}
	if cfg.Negotiation.AuctionTick <= 0 {
		cfg.Negotiation.AuctionTick = time.Second
	}
	if cfg.Negotiation.AuctionDeadline <= 0 {
		cfg.Negotiation.AuctionDeadline = 60 * time.Second
	}
	if cfg.Negotiation.BidRateLimit <= 0 {
		cfg.Negotiation.BidRateLimit = 30
	}
	if cfg.Fees.Currency == "" {
		cfg.Fees.Currency = "USDC"
	}
	if cfg.Fees.RaiseMicros == 0 {
		cfg.Fees.RaiseMicros = 100 // 0.0001 USDC
	}
	if cfg.Fees.BidMicros == 0 {
		cfg.Fees.BidMicros = 50 // 0.00005 USDC
	}
	if cfg.Security.TokenTTL <= 0 {
		cfg.Security.TokenTTL = 12 * time.Hour
	}
}
