package config

import (
	"errors"
	"fmt"
	"net"
)

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

// Validate checks the structural validity of a Config, joining every
// defect so the operator sees all of them at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if _, ok := logLevels[cfg.Log.Level]; !ok {
		errs = append(errs, fmt.Errorf("config: log.level %q must be one of debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("config: log.format %q must be \"text\" or \"json\"", cfg.Log.Format))
	}

	if cfg.Store.Path == "" {
		errs = append(errs, errors.New("config: store.path is required"))
	}

	if cfg.Gateway.Listen == "" {
		errs = append(errs, errors.New("config: gateway.listen is required"))
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Listen); err != nil {
		errs = append(errs, fmt.Errorf("config: gateway.listen %q: %w", cfg.Gateway.Listen, err))
	}

	if cfg.Sources.BaseURL == "" {
		errs = append(errs, errors.New("config: sources.base_url is required"))
	}
	if cfg.Sources.Timeout < 0 {
		errs = append(errs, errors.New("config: sources.timeout must not be negative"))
	}

	errs = append(errs, validatePayment(&cfg.Payment)...)

	if cfg.Runtime.MaxTries == 0 {
		errs = append(errs, errors.New("config: runtime.max_tries must be at least 1"))
	}
	if cfg.Runtime.RetryInterval < 0 {
		errs = append(errs, errors.New("config: runtime.retry_interval must not be negative"))
	}

	if cfg.Maintenance.ItemMaxAge <= 0 {
		errs = append(errs, errors.New("config: maintenance.item_max_age must be positive"))
	}
	if cfg.Maintenance.MaxRunTime <= 0 {
		errs = append(errs, errors.New("config: maintenance.max_run_time must be positive"))
	}

	return errors.Join(errs...)
}

func validatePayment(p *PaymentConfig) []error {
	var errs []error

	// The gate is optional: without a ledger URL every paywall is
	// denied, nothing else breaks.
	if p.LedgerURL != "" && p.Payer == "" {
		errs = append(errs, errors.New("config: payment.payer is required when payment.ledger_url is set"))
	}
	if p.Budget.TierLimit < 0 || p.Budget.CustomCap < 0 {
		errs = append(errs, errors.New("config: payment.budget limits must not be negative"))
	}
	if p.LedgerURL != "" && p.Budget.TierLimit == 0 && p.Budget.CustomCap == 0 {
		errs = append(errs, errors.New("config: payment.budget.tier_limit or custom_cap must be set when the ledger is enabled"))
	}
	return errs
}
