package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the system service",
	}

	var cfgPath string
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")

	cmd.AddCommand(
		serviceActionCmd("install", "Install as a system service", &cfgPath),
		serviceActionCmd("uninstall", "Remove the system service", &cfgPath),
		serviceActionCmd("start", "Start the system service", &cfgPath),
		serviceActionCmd("stop", "Stop the system service", &cfgPath),
		&cobra.Command{
			Use:    "run",
			Short:  "Run under the service manager",
			Hidden: true,
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService(cfgPath)
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}

func serviceActionCmd(action, short string, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, err := newService(*cfgPath)
			if err != nil {
				return err
			}
			if err := service.Control(svc, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Printf("service %s: ok\n", action)
			return nil
		},
	}
}

func newService(cfgPath string) (service.Service, error) {
	svcConfig := &service.Config{
		Name:        "newsie",
		DisplayName: "Newsie",
		Description: "Scheduled retrieval engine with payment-gated content",
		Arguments:   []string{"service", "run"},
	}
	if cfgPath != "" {
		svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
	}
	return service.New(&program{cfgPath: cfgPath}, svcConfig)
}

// program adapts the engine to the service manager's lifecycle. Start
// must not block, so the engine runs in a goroutine cancelled by Stop.
type program struct {
	cfgPath string
	cancel  context.CancelFunc
	done    chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- runEngine(ctx, p.cfgPath) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.cancel()
	return <-p.done
}
