// Package config loads the Engine's single configuration struct: defaults,
// then an optional YAML file, then environment variable overrides. Later
// layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GatingPolicyConfig mirrors engine.GatingPolicy without importing it, so
// config stays a leaf package.
type GatingPolicyConfig struct {
	MinConfidenceScore         int  `yaml:"min_confidence_score"`
	CriticalPriorityRequired   bool `yaml:"critical_priority_required"`
	DeduplicationWindowMinutes int  `yaml:"deduplication_window_minutes"`
}

// DetectorThresholds carries the tunable detector thresholds.
type DetectorThresholds struct {
	ExpenseSpikePct      float64 `yaml:"expense_spike_pct"`
	RevenueDeclinePct    float64 `yaml:"revenue_decline_pct"`
	CashflowLookbackDays int     `yaml:"cashflow_lookback_days"`
	CashflowRunThreshold int     `yaml:"cashflow_run_threshold"`
	InactivityDays       int     `yaml:"inactivity_days"`
	TargetVarianceFloor  float64 `yaml:"target_variance_floor_pct"`
}

// ScorerConfig carries the open-question default for detector priors,
// configurable instead of a hardcoded constant.
type ScorerConfig struct {
	Priors map[string]float64 `yaml:"priors"`
}

// NotifierConfig bounds the dispatcher's per-recipient token bucket.
type NotifierConfig struct {
	RateLimitCapacity int `yaml:"rate_limit_capacity"`
	RateLimitPerMin   int `yaml:"rate_limit_per_minute"`
	SendTimeoutSecs   int `yaml:"send_timeout_seconds"`
}

// HTTPConfig configures the query-surface / trigger HTTP listener.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the Engine's single configuration struct.
type Config struct {
	OperatingTimezone string             `yaml:"operating_timezone"`
	CurrencyCode      string             `yaml:"currency_code"`
	MaxTransactionAmt float64            `yaml:"max_transaction_amount"`
	Detectors         DetectorThresholds `yaml:"detectors"`
	Gating            GatingPolicyConfig `yaml:"gating"`
	Scorer            ScorerConfig       `yaml:"scorer"`
	Notifier          NotifierConfig     `yaml:"notifier"`
	RetentionDays     int                `yaml:"retention_days"`
	PostgresDSN       string             `yaml:"postgres_dsn"`
	RedisAddr         string             `yaml:"redis_addr"`
	HTTP              HTTPConfig         `yaml:"http"`
}

// Default returns the Engine's configuration defaults, matching the
// stated defaults throughout.
func Default() Config {
	return Config{
		OperatingTimezone: "Asia/Makassar",
		CurrencyCode:      "IDR",
		MaxTransactionAmt: 500_000_000,
		Detectors: DetectorThresholds{
			ExpenseSpikePct:      30,
			RevenueDeclinePct:    15,
			CashflowLookbackDays: 7,
			CashflowRunThreshold: 3,
			InactivityDays:       5,
			TargetVarianceFloor:  20,
		},
		Gating: GatingPolicyConfig{
			MinConfidenceScore:         80,
			CriticalPriorityRequired:   true,
			DeduplicationWindowMinutes: 60,
		},
		Scorer: ScorerConfig{Priors: map[string]float64{
			"expense_spike": 5, "revenue_decline": 5, "cashflow_warning": 5,
			"target_variance": 5, "employee_inactivity": 5,
		}},
		Notifier:      NotifierConfig{RateLimitCapacity: 15, RateLimitPerMin: 15, SendTimeoutSecs: 10},
		RetentionDays: 90,
		HTTP:          HTTPConfig{Host: "127.0.0.1", Port: 8090},
	}
}

// Load applies the defaults -> file -> env layering. path may be empty, in
// which case only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FINENGINE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("FINENGINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FINENGINE_TIMEZONE"); v != "" {
		cfg.OperatingTimezone = v
	}
	if v := os.Getenv("FINENGINE_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
}

// Validate checks the cross-field invariants a malformed config file or
// environment override could otherwise silently break.
func (c *Config) Validate() error {
	if c.OperatingTimezone == "" {
		return fmt.Errorf("operating_timezone is required")
	}
	if c.MaxTransactionAmt <= 0 {
		return fmt.Errorf("max_transaction_amount must be positive")
	}
	if c.Gating.MinConfidenceScore < 0 || c.Gating.MinConfidenceScore > 100 {
		return fmt.Errorf("gating.min_confidence_score must be in [0,100]")
	}
	if c.Gating.DeduplicationWindowMinutes < 0 {
		return fmt.Errorf("gating.deduplication_window_minutes cannot be negative")
	}
	if c.Notifier.RateLimitCapacity <= 0 || c.Notifier.RateLimitPerMin <= 0 {
		return fmt.Errorf("notifier rate limit capacity and per-minute refill must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive")
	}
	return nil
}

// SendTimeout returns the configured per-call Notifier timeout.
func (c Config) SendTimeout() time.Duration {
	secs := c.Notifier.SendTimeoutSecs
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}
