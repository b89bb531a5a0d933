package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowlab/flowcal/pkg/events"
	"github.com/flowlab/flowcal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "connect <port>",
		Short:   "Open the serial link to the sensor board",
		GroupID: gDevice,
		Long: `Open the serial link to the sensor board.

The daemon closes any link it already holds before opening the new one. The
port is remembered in the config file and reopened when the daemon restarts.
Run 'flowcal status' to see the available ports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.Connect(args[0])
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", args[0], err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully connected to %s", args[0])

			return nil
		},
	}
}

func NewDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect",
		Short:   "Close the serial link",
		GroupID: gDevice,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Disconnect()
			if err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "send <text>...",
		Short:   "Send a raw line to the sensor board",
		GroupID: gDevice,
		Long: `Send a raw line to the sensor board.

Arguments are joined with spaces and written followed by a newline. The line
shows up in the console prefixed with ">>". Sending is refused while a
measurement is running.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ret, err := apiClient.SendLine(strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}

			if line, err := strconv.Unquote(strings.TrimSpace(ret)); err == nil {
				ret = line
			}
			cmd.Println(ret)

			return nil
		},
	}
}

func NewConsoleCommand() *cobra.Command {
	var (
		follow bool
		reset  bool
	)

	cmd := &cobra.Command{
		Use:     "console",
		Short:   "Show lines received from the sensor board",
		GroupID: gDevice,
		Long: `Show lines received from the sensor board outside of measurements.

The daemon keeps a bounded history of lines together with the running average
of every numeric line. Use --follow to keep printing new lines as they arrive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reset {
				if _, err := apiClient.ClearConsole(); err != nil {
					return fmt.Errorf("failed to clear console: %w", err)
				}
				logrus.Infof("console cleared")
				return nil
			}

			st, err := apiClient.GetConsole()
			if err != nil {
				return fmt.Errorf("failed to get console: %w", err)
			}

			for _, l := range st.Lines {
				cmd.Println(formatConsoleLine(l.Time, l.Text, l.Sent))
			}
			cmd.Printf("%s %s (%d values)\n", bold("Average:"), optional(st.Average, "%.4f"), st.Count)

			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return apiClient.Events(ctx, func(ev events.Event) bool {
				if ev.Name != events.ConsoleLine {
					return true
				}
				line, err := events.DecodeAs[events.ConsoleLineEvent](ev)
				if err != nil {
					logrus.WithError(err).Warn("failed to decode console line")
					return true
				}
				cmd.Println(formatConsoleLine(time.Unix(line.Ts, 0), line.Line, line.Sent))
				return true
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	cmd.Flags().BoolVar(&reset, "clear", false, "clear the history and the running average")
	cmd.MarkFlagsMutuallyExclusive("follow", "clear")

	return cmd
}

func formatConsoleLine(t time.Time, text string, sent bool) string {
	if sent {
		text = ">> " + text
	}
	return fmt.Sprintf("%s  %s", t.Format(time.TimeOnly), text)
}

func NewMeasureCommand() *cobra.Command {
	var velocity bool

	cmd := &cobra.Command{
		Use:     "measure <reference>",
		Short:   "Run one measurement against a reference value",
		GroupID: gDevice,
		Long: `Run one measurement against a reference value.

The daemon starts a session on the sensor board and collects the samples it
reports. A reference of 0 records the sensor offset instead of an experiment.

With --velocity the reference is a velocity and is converted to flow units
using the configured velocity factor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseFloatArg(args, "reference")
			if err != nil {
				return err
			}

			logrus.Infof("measuring against reference %g", ref)

			res, err := apiClient.Measure(ref, velocity)
			if err != nil {
				return fmt.Errorf("measurement failed: %w", err)
			}

			logrus.WithFields(logrus.Fields{
				"phase":    res.Phase,
				"duration": res.Duration,
			}).Debug("daemon responded")

			if res.Offset != nil {
				cmd.Printf("%s %.6f V\n", bold("Offset:"), *res.Offset)
				return nil
			}
			if res.Experiment == nil {
				return fmt.Errorf("daemon returned no experiment")
			}

			e := res.Experiment
			cmd.Printf("%s #%d\n", bold("Experiment"), res.Index+1)
			cmd.Printf("  Reference:      %.3f\n", e.Reference)
			cmd.Printf("  Flow average:   %s\n", optional(e.FlowAverage, "%.3f"))
			cmd.Printf("  Voltage avg:    %s\n", optional(e.VoltageAverage, "%.3f V"))
			cmd.Printf("  Precision:      %.3f\n", e.Precision)
			cmd.Printf("  Accuracy:       %s\n", optional(e.Accuracy, "%.3f"))
			cmd.Printf("  Samples:        %d\n", len(e.Samples))

			return nil
		},
	}

	cmd.Flags().BoolVar(&velocity, "velocity", false, "the reference is a velocity")

	return cmd
}
