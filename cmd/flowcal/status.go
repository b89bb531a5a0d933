package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/daemon"
)

type statusData struct {
	link        *daemon.LinkStatus
	experiments *daemon.ExperimentList
	console     *daemon.ConsoleStatus
	config      *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	link, err := apiClient.GetLink()
	if err != nil {
		return nil, fmt.Errorf("failed to get link status: %w", err)
	}

	exps, err := apiClient.GetExperiments()
	if err != nil {
		return nil, fmt.Errorf("failed to get experiments: %w", err)
	}

	console, err := apiClient.GetConsole()
	if err != nil {
		return nil, fmt.Errorf("failed to get console: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		link:        link,
		experiments: exps,
		console:     console,
		config:      conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gDevice,
		Short:   "Get the current status of flowcal",
		Long:    `Get the serial link state, the stored dataset, and the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			cfg := config.NewFileFromConfig(data.config, "")

			if asJSON {
				return printStatusJSON(cmd, data, cfg)
			}

			// Link.
			cmd.Println(bold("Serial link:"))
			cmd.Println("  Connected: " + bool2Text(data.link.Connected))
			if data.link.Connected {
				cmd.Printf("  Port: %s\n", bold("%s", data.link.Address))
			}
			cmd.Printf("  Baud rate: %s\n", bold("%d", data.link.BaudRate))
			cmd.Println("  Measurement running: " + bool2Text(data.link.SessionRunning))
			if len(data.link.Ports) > 0 {
				cmd.Printf("  Available ports: %s\n", strings.Join(data.link.Ports, ", "))
			} else {
				cmd.Println("  Available ports: none found")
			}
			cmd.Printf("  Console average: %s (%d values)\n", optional(data.console.Average, "%.4f"), data.console.Count)

			cmd.Println()

			// Dataset.
			cmd.Println(bold("Dataset:"))
			cmd.Printf("  Experiments: %s\n", bold("%d", len(data.experiments.Experiments)))
			cmd.Printf("  Selected: %s\n", bold("%d", len(data.experiments.Selection)))
			cmd.Printf("  Offsets: %s\n", bold("%d", len(data.experiments.Offsets)))

			cmd.Println()

			// Config.
			cmd.Println(bold("Configuration:"))
			if cfg.Port() != "" {
				cmd.Printf("  Port on start-up: %s\n", bold("%s", cfg.Port()))
			}
			cmd.Printf("  Read timeout: %s\n", bold("%s", cfg.ReadTimeout()))
			cmd.Printf("  Session timeout: %s\n", bold("%s", cfg.SessionTimeout()))
			cmd.Printf("  Accuracy convention: %s\n", bold("%s", cfg.AccuracyConvention()))
			cmd.Printf("  Offset policy: %s\n", bold("%s", cfg.OffsetPolicy()))
			cmd.Printf("  Velocity factor: %s\n", bold("%g", cfg.VelocityFactor()))
			cmd.Printf("  Console poll interval: %s\n", bold("%s", cfg.PollInterval()))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(cfg.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}
