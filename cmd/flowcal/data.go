package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowlab/flowcal/pkg/daemon"
	"github.com/flowlab/flowcal/pkg/export"
)

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored experiments",
		GroupID: gData,
		Long: `List stored experiments.

Experiments are numbered from 1. Selected experiments are marked with "*".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := apiClient.GetExperiments()
			if err != nil {
				return fmt.Errorf("failed to get experiments: %w", err)
			}

			cmd.Print(formatExperimentList(l))

			return nil
		},
	}
}

func formatExperimentList(l *daemon.ExperimentList) string {
	var b strings.Builder
	if len(l.Experiments) == 0 {
		b.WriteString("No experiments stored.\n")
	} else {
		fmt.Fprintf(&b, "%s\n", bold("    #  Reference  Flow avg  Voltage avg  Precision  Accuracy  Samples"))
		for i, e := range l.Experiments {
			mark := " "
			if slices.Contains(l.Selection, i) {
				mark = "*"
			}
			fmt.Fprintf(&b, "%s %4d  %9.3f  %8s  %11s  %9.3f  %8s  %7d\n",
				mark,
				i+1,
				e.Reference,
				optional(e.FlowAverage, "%.3f"),
				optional(e.VoltageAverage, "%.3f"),
				e.Precision,
				optional(e.Accuracy, "%.3f"),
				len(e.Samples),
			)
		}
	}

	if len(l.Offsets) > 0 {
		parts := make([]string, len(l.Offsets))
		for i, o := range l.Offsets {
			parts[i] = fmt.Sprintf("%.6f", o)
		}
		fmt.Fprintf(&b, "%s %s V (%s)\n", bold("Offsets:"), strings.Join(parts, ", "), l.Policy)
	}

	return b.String()
}

func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <number>",
		Aliases: []string{"rm"},
		Short:   "Remove one experiment",
		GroupID: gData,
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := parseIntArg(args, "experiment number")
			if err != nil {
				return err
			}
			indices, err := parseIndexArgs(args)
			if err != nil {
				return err
			}

			ret, err := apiClient.RemoveExperiment(indices[0])
			if err != nil {
				return fmt.Errorf("failed to remove experiment %d: %w", n, err)
			}

			logrus.Debugf("daemon responded: %s", ret)
			logrus.Infof("successfully removed experiment %d", n)

			return nil
		},
	}
}

func NewSelectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "select [number]...",
		Short:   "Select experiments for the deviation analysis",
		GroupID: gData,
		Long: `Select experiments for the deviation analysis.

The given experiments replace the current selection. Without arguments the
selection is cleared.`,
		RunE: func(_ *cobra.Command, args []string) error {
			indices, err := parseIndexArgs(args)
			if err != nil {
				return err
			}

			sel, err := apiClient.SetSelection(indices)
			if err != nil {
				return fmt.Errorf("failed to set selection: %w", err)
			}

			if len(sel) == 0 {
				logrus.Infof("selection cleared")
				return nil
			}
			logrus.Infof("selected experiments %s", formatNumbers(sel))

			return nil
		},
	}
}

// formatNumbers renders store indices as the 1-based numbers users see.
func formatNumbers(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = fmt.Sprint(idx + 1)
	}
	return strings.Join(parts, ", ")
}

func NewClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Short:   "Remove all experiments and offsets",
		GroupID: gData,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.ClearExperiments()
			if err != nil {
				return fmt.Errorf("failed to clear experiments: %w", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "export <path>",
		Short:   "Write the experiments and statistics to a text file",
		GroupID: gData,
		Long: `Write the experiments and statistics to a text file.

The file holds a tab-separated experiment table followed by the regression,
the voltage spread and the worst-case deviation of every experiment. An
existing file is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			l, err := apiClient.GetExperiments()
			if err != nil {
				return fmt.Errorf("failed to get experiments: %w", err)
			}

			err = export.WriteFile(args[0], export.Report{
				Experiments: l.Experiments,
				Offsets:     l.Offsets,
			})
			if errors.Is(err, export.ErrNoData) {
				return fmt.Errorf("nothing to export, run 'flowcal measure' first")
			}
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"path":        args[0],
				"experiments": len(l.Experiments),
			}).Info("report written")

			return nil
		},
	}
}
