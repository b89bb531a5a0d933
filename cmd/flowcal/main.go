package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/flowlab/flowcal/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/flowcal.sock"
	configPath     = "/etc/flowcal.json"
)

var apiClient *client.Client

var (
	gDevice       = "Device:"
	gData         = "Data:"
	gAnalysis     = "Analysis:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gDevice,
		gData,
		gAnalysis,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: flowcal daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'flowcal daemon' and try again.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or start the daemon with '--always-allow-non-root-access'")
	case errors.Is(err, client.ErrNotConnected):
		fmt.Fprintln(os.Stderr, "\nHint: open the serial port first with 'flowcal connect <port>'")
	case errors.Is(err, client.ErrBusy):
		fmt.Fprintln(os.Stderr, "\nHint: wait for the running measurement to finish")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowcal",
		Short: "flowcal calibrates a flow sensor against a reference standard",
		Long: `flowcal calibrates a flow sensor against a reference standard.

A daemon owns the serial link to the sensor board and keeps the experiments
of the current session. Every other command talks to the daemon.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			switch cmd.Name() {
			case "daemon", "install", "uninstall", "version":
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Restart the daemon after upgrading.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "flowcal daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewConnectCommand(),
		NewDisconnectCommand(),
		NewSendCommand(),
		NewConsoleCommand(),
		NewMeasureCommand(),
		NewListCommand(),
		NewRemoveCommand(),
		NewSelectCommand(),
		NewClearCommand(),
		NewExportCommand(),
		NewRegressionCommand(),
		NewDeviationCommand(),
		NewSummaryCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
