// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`  // public origin used in callbacks
	BasePath        string        `yaml:"base_path"` // pay routes prefix
	PaymentTimeout  int           `yaml:"payment_timeout"`
	SignatureSecret string        `yaml:"signature_secret"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ConfirmLimit    int           `yaml:"confirm_limit"` // confirms per minute per client, 0 = unlimited
}

type AdminConfig struct {
	APIKey        string        `yaml:"api_key"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // memory|postgres
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Contract string `yaml:"contract"` // ERC-20 contract or SPL mint
	Decimals int    `yaml:"decimals"`
}

type ChainConfig struct {
	ChainID       int64         `yaml:"chain_id"`
	Name          string        `yaml:"name"`
	Symbol        string        `yaml:"symbol"`
	Type          string        `yaml:"type"` // evm|solana|mock
	RPCURL        string        `yaml:"rpc_url"`
	Confirmations uint64        `yaml:"confirmations"`
	Tokens        []TokenConfig `yaml:"tokens"`
}

type VerificationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type BillingConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"` // empty = all
}

type WebhookConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	Workers     int               `yaml:"workers"`
	MaxAttempts int               `yaml:"max_attempts"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Chains       []ChainConfig      `yaml:"chains"`
	Verification VerificationConfig `yaml:"verification"`
	Billing      BillingConfig      `yaml:"billing"`
	Webhooks     WebhookConfig      `yaml:"webhooks"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes b, applies environment overrides and defaults, and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PAYPORTAL_API_KEY"); v != "" {
		cfg.Admin.APIKey = v
	}
	if v := os.Getenv("PAYPORTAL_SIGNATURE_SECRET"); v != "" {
		cfg.Server.SignatureSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/pay"
	}
	if cfg.Server.PaymentTimeout <= 0 {
		cfg.Server.PaymentTimeout = 900
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
		if cfg.Database.URL != "" {
			cfg.Database.Driver = "postgres"
		}
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.RPCURL == "mock" || c.Type == "" {
			c.Type = "mock"
		}
		if c.Confirmations == 0 {
			c.Confirmations = 1
		}
	}
	if cfg.Verification.Timeout <= 0 {
		cfg.Verification.Timeout = 10 * time.Second
	}
	if cfg.Billing.SweepInterval <= 0 {
		cfg.Billing.SweepInterval = time.Minute
	}
	if cfg.Billing.BatchSize <= 0 {
		cfg.Billing.BatchSize = 200
	}
	if cfg.Webhooks.Workers <= 0 {
		cfg.Webhooks.Workers = 4
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		cfg.Webhooks.MaxAttempts = 3
	}
	if cfg.Webhooks.Timeout <= 0 {
		cfg.Webhooks.Timeout = 10 * time.Second
	}
}

// Minimal validation
func validate(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	seen := make(map[int64]bool, len(cfg.Chains))
	for _, c := range cfg.Chains {
		if seen[c.ChainID] {
			return fmt.Errorf("duplicate chain_id %d", c.ChainID)
		}
		seen[c.ChainID] = true
		switch c.Type {
		case "mock":
		case "evm", "solana":
			if c.RPCURL == "" {
				return fmt.Errorf("chain %d: rpc_url is required", c.ChainID)
			}
		default:
			return fmt.Errorf("chain %d: unknown type %q", c.ChainID, c.Type)
		}
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	for _, ep := range cfg.Webhooks.Endpoints {
		if ep.URL == "" {
			return errors.New("webhook endpoint url is required")
		}
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
