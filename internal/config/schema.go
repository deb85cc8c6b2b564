// Package config handles YAML configuration loading, environment
// variable expansion, and structural validation for the engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Log         LogConfig         `yaml:"log"`
	Store       StoreConfig       `yaml:"store"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Sources     SourcesConfig     `yaml:"sources"`
	Payment     PaymentConfig     `yaml:"payment"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default info.
	Level string `yaml:"level"`
	// Format is "text" or "json". Default text.
	Format string `yaml:"format"`
}

// StoreConfig locates the sqlite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	// Listen is the bind address, e.g. "127.0.0.1:8480".
	Listen string `yaml:"listen"`
	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string `yaml:"auth_token"`
}

// SourcesConfig configures the retrieval adapters.
type SourcesConfig struct {
	// BaseURL is the direct content source endpoint.
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"` // per-fetch bound, default 30s

	// StrategyEndpoint is the MCP endpoint serving strategy-assisted
	// retrieval. Empty disables strategy-assisted blocks.
	StrategyEndpoint string `yaml:"strategy_endpoint"`
}

// PaymentConfig configures the payment gate and its ledger executor.
type PaymentConfig struct {
	LedgerURL string   `yaml:"ledger_url"`
	APIKey    string   `yaml:"api_key"`
	Payer     string   `yaml:"payer"`   // payer reference recorded on transfers
	Timeout   Duration `yaml:"timeout"` // per-transfer bound, default 60s

	// Budget caps per-owner spend per UTC day.
	Budget BudgetConfig `yaml:"budget"`
}

// BudgetConfig is the per-owner daily spend ceiling in USD.
type BudgetConfig struct {
	TierLimit float64 `yaml:"tier_limit"`
	CustomCap float64 `yaml:"custom_cap"`
}

// RuntimeConfig tunes block execution.
type RuntimeConfig struct {
	MaxTries      uint     `yaml:"max_tries"`      // retrieval attempts per block, default 3
	RetryInterval Duration `yaml:"retry_interval"` // initial backoff, default 500ms
}

// MaintenanceConfig tunes the periodic jobs.
type MaintenanceConfig struct {
	ItemMaxAge      Duration `yaml:"item_max_age"`      // retention window, default 168h
	MaxRunTime      Duration `yaml:"max_run_time"`      // stale run cutoff, default 1h
	ReconcileMinAge Duration `yaml:"reconcile_min_age"` // pending transfer grace, default 5m
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the host:port of an OTLP/HTTP collector. Empty
	// disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with every optional knob at its default.
func Default() *Config {
	return &Config{
		Version: "1",
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Path: "newsie.db"},
		Gateway: GatewayConfig{Listen: "127.0.0.1:8480"},
		Sources: SourcesConfig{Timeout: Duration(30 * time.Second)},
		Payment: PaymentConfig{
			Timeout: Duration(60 * time.Second),
			Budget:  BudgetConfig{TierLimit: 1.0},
		},
		Runtime: RuntimeConfig{
			MaxTries:      3,
			RetryInterval: Duration(500 * time.Millisecond),
		},
		Maintenance: MaintenanceConfig{
			ItemMaxAge:      Duration(168 * time.Hour),
			MaxRunTime:      Duration(time.Hour),
			ReconcileMinAge: Duration(5 * time.Minute),
		},
	}
}
