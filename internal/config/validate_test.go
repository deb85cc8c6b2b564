package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Sources.BaseURL = "https://content.example.com"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_Defects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantSub: "version field is required",
		},
		{
			name:    "unsupported version",
			mutate:  func(c *Config) { c.Version = "2" },
			wantSub: "unsupported version",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantSub: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantSub: "log.format",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantSub: "store.path",
		},
		{
			name:    "unparseable listen address",
			mutate:  func(c *Config) { c.Gateway.Listen = "nonsense" },
			wantSub: "gateway.listen",
		},
		{
			name:    "missing source url",
			mutate:  func(c *Config) { c.Sources.BaseURL = "" },
			wantSub: "sources.base_url",
		},
		{
			name: "ledger without payer",
			mutate: func(c *Config) {
				c.Payment.LedgerURL = "https://ledger.example.com"
				c.Payment.Payer = ""
			},
			wantSub: "payment.payer",
		},
		{
			name: "ledger without budget",
			mutate: func(c *Config) {
				c.Payment.LedgerURL = "https://ledger.example.com"
				c.Payment.Payer = "wallet-1"
				c.Payment.Budget = BudgetConfig{}
			},
			wantSub: "payment.budget",
		},
		{
			name:    "zero max tries",
			mutate:  func(c *Config) { c.Runtime.MaxTries = 0 },
			wantSub: "runtime.max_tries",
		},
		{
			name:    "zero retention window",
			mutate:  func(c *Config) { c.Maintenance.ItemMaxAge = 0 },
			wantSub: "item_max_age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_JoinsAllDefects(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Version = ""
	cfg.Store.Path = ""
	cfg.Sources.BaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"version", "store.path", "sources.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q misses %q", err, want)
		}
	}
}

func TestLoad_ExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("NEWSIE_TEST_TOKEN", "s3cret")

	raw := `
version: "1"
gateway:
  listen: "${NEWSIE_TEST_LISTEN:-127.0.0.1:9000}"
  auth_token: "${NEWSIE_TEST_TOKEN}"
sources:
  base_url: "https://content.example.com"
  timeout: "10s"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q, want fallback default applied", cfg.Gateway.Listen)
	}
	if cfg.Gateway.AuthToken != "s3cret" {
		t.Errorf("auth token = %q, want env value", cfg.Gateway.AuthToken)
	}
	if cfg.Sources.Timeout.Std() != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Sources.Timeout.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Runtime.MaxTries != 3 || cfg.Log.Level != "info" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\ngateway:\n  auth_token: \"${NEWSIE_NO_SUCH_VAR}\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "NEWSIE_NO_SUCH_VAR") {
		t.Errorf("got %v, want unresolved variable error", err)
	}
}
