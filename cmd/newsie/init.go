package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/newsieai/newsie/internal/config"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")

			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			cfg, err := promptConfig()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}

			fmt.Printf("Wrote %s. Start the engine with: newsie start -c %s\n", out, out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "newsie.yaml", "Where to write the configuration")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

// promptConfig walks through the settings a fresh install needs and
// layers the answers over the defaults.
func promptConfig() (*config.Config, error) {
	cfg := config.Default()
	enablePayment := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway listen address").
				Value(&cfg.Gateway.Listen),
			huh.NewInput().
				Title("Gateway auth token (empty disables auth)").
				Value(&cfg.Gateway.AuthToken),
			huh.NewInput().
				Title("Database path").
				Value(&cfg.Store.Path),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Source API base URL").
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a source base URL is required")
					}
					return nil
				}).
				Value(&cfg.Sources.BaseURL),
			huh.NewInput().
				Title("Source API key (optional)").
				Value(&cfg.Sources.APIKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable payment-gated retrieval?").
				Value(&enablePayment),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Ledger URL").
				Value(&cfg.Payment.LedgerURL),
			huh.NewInput().
				Title("Ledger API key").
				Value(&cfg.Payment.APIKey),
			huh.NewInput().
				Title("Payer account").
				Value(&cfg.Payment.Payer),
		).WithHideFunc(func() bool { return !enablePayment }),
	)

	if err := form.Run(); err != nil {
		return nil, err
	}
	if !enablePayment {
		cfg.Payment.LedgerURL = ""
		cfg.Payment.APIKey = ""
		cfg.Payment.Payer = ""
	}
	return cfg, nil
}
