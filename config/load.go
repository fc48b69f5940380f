package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ledger-sync-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Ledger  LedgerConfig            `yaml:"ledger"`
	Sync    SyncConfig              `yaml:"sync"`
	Logger  logger.Config           `yaml:"logger"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Brokers map[string]BrokerConfig `yaml:"brokers"`
}

// LedgerConfig points at the SQLite ledger database.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig 同步策略开关（原先的全局 flag，显式传入 orchestrator）。
type SyncConfig struct {
	IntervalSeconds        int  `yaml:"intervalSeconds"`
	TimeoutSeconds         int  `yaml:"timeoutSeconds"`
	ReconcilePositions     bool `yaml:"reconcilePositions"`  // enable the shrink/prune/grow engine
	UpdateUncategorized    bool `yaml:"updateUncategorized"` // insert uncategorized rows for unknown broker positions
	RefreshCostBasis       bool `yaml:"refreshCostBasis"`    // pull cost basis from the broker during valuation
	MarketHoursOnly        bool `yaml:"marketHoursOnly"`     // skip iterations while US markets are closed
	VolatilityLookbackDays int  `yaml:"volatilityLookbackDays"`
}

// Interval returns the iteration interval as a duration.
func (s SyncConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Timeout returns the per-iteration deadline.
func (s SyncConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 留空则关闭 /metrics
}

// BrokerConfig 保存单个券商接入的连接参数。
type BrokerConfig struct {
	BaseURL   string `yaml:"baseURL"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
	StreamURL string `yaml:"streamURL"` // optional websocket price stream
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
// Broker credentials come from LS_BROKER_<NAME>_API_KEY / _API_SECRET.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	for name, bc := range cfg.Brokers {
		prefix := "LS_BROKER_" + strings.ToUpper(name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			bc.APIKey = v
		}
		if v := os.Getenv(prefix + "_API_SECRET"); v != "" {
			bc.APISecret = v
		}
		cfg.Brokers[name] = bc
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logger.Level == "" {
		cfg.Logger = logger.DefaultConfig()
	}
	if cfg.Sync.VolatilityLookbackDays <= 0 {
		cfg.Sync.VolatilityLookbackDays = 365
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Ledger.Path == "" {
		return errors.New("ledger.path is required")
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("brokers config is required")
	}
	for name, bc := range cfg.Brokers {
		if bc.BaseURL == "" {
			return fmt.Errorf("broker %s baseURL is required", name)
		}
		if bc.APIKey == "" {
			return fmt.Errorf("broker %s apiKey is required (or env override)", name)
		}
	}
	if cfg.Sync.IntervalSeconds < 0 || cfg.Sync.TimeoutSeconds < 0 {
		return errors.New("sync intervals must be >= 0")
	}
	return nil
}
