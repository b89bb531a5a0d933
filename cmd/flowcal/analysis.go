package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowlab/flowcal/pkg/calibration"
)

func NewRegressionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "regression",
		Short:   "Fit voltage against reference",
		GroupID: gAnalysis,
		Long: `Fit a least-squares line through the (reference, voltage average) points of
every experiment, plus the (0, offset) points.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := apiClient.GetRegression()
			if err != nil {
				return fmt.Errorf("failed to get regression: %w", err)
			}

			cmd.Print(formatRegression(r))

			return nil
		},
	}
}

func formatRegression(r *calibration.Regression) string {
	var b strings.Builder
	for _, p := range r.Points {
		label := ""
		if p.Offset {
			label = " (offset)"
		}
		fmt.Fprintf(&b, "  %10.3f  %10.6f%s\n", p.X, p.Y, label)
	}
	if !r.Defined || r.Fit == nil {
		msg := r.Message
		if msg == "" {
			msg = "not enough points"
		}
		fmt.Fprintf(&b, "%s %s\n", bold("Regression:"), msg)
		return b.String()
	}
	fmt.Fprintf(&b, "%s y = %.6f x + %.6f\n", bold("Regression:"), r.Fit.Slope, r.Fit.Intercept)
	fmt.Fprintf(&b, "%s %s\n", bold("R²:"), optional(r.Fit.R2, "%.6f"))
	fmt.Fprintf(&b, "%s %d\n", bold("Points:"), r.Fit.Points)
	return b.String()
}

func NewDeviationCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "deviation [number]...",
		Short:   "Show how the samples of experiments spread around their mean",
		GroupID: gAnalysis,
		Long: `Show how the samples of experiments spread around their mean.

Without arguments the selected experiments are shown (see 'flowcal select').`,
		RunE: func(cmd *cobra.Command, args []string) error {
			indices, err := parseIndexArgs(args)
			if err != nil {
				return err
			}
			if len(indices) == 0 {
				indices, err = apiClient.GetSelection()
				if err != nil {
					return fmt.Errorf("failed to get selection: %w", err)
				}
			}
			if len(indices) == 0 {
				return fmt.Errorf("no experiments given and none selected")
			}

			for _, i := range indices {
				m, err := apiClient.GetDeviation(i)
				if err != nil {
					return fmt.Errorf("failed to get deviation of experiment %d: %w", i+1, err)
				}
				cmd.Print(formatDeviation(m))
			}

			return nil
		},
	}
}

func formatDeviation(m *calibration.DeviationModel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d (reference %.3f)\n", bold("Experiment"), m.Index+1, m.Reference)
	fmt.Fprintf(&b, "  Mean:            %.6f\n", m.Mean)
	fmt.Fprintf(&b, "  Sigma:           %.6f\n", m.Sigma)
	fmt.Fprintf(&b, "  Worst deviation: %.6f (sample %d)\n", m.WorstDeviation, m.WorstIndex+1)
	if m.Degenerate {
		fmt.Fprintf(&b, "  Distribution:    degenerate, every sample equals the mean\n")
	} else {
		fmt.Fprintf(&b, "  Density:         %.6f\n", m.WorstDensity)
		fmt.Fprintf(&b, "  Curve range:     ±%.6f\n", m.Limit)
	}
	return b.String()
}

func NewSummaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "summary",
		Short:   "Summarize error bounds across all experiments",
		GroupID: gAnalysis,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := apiClient.GetSummary()
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}

			cmd.Print(formatSummary(s))

			return nil
		},
	}
}

func formatSummary(s *calibration.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", bold("Experiments:"), s.Experiments)
	if s.Fit != nil {
		fmt.Fprintf(&b, "%s y = %.6f x + %.6f (R² %s)\n", bold("Regression:"), s.Fit.Slope, s.Fit.Intercept, optional(s.Fit.R2, "%.6f"))
	}
	fmt.Fprintf(&b, "%s %.6f V\n", bold("Voltage std:"), s.VoltageStdDev)
	fmt.Fprintf(&b, "%s %.6f V\n", bold("Max voltage deviation:"), s.MaxVoltageDeviation)
	for _, wc := range s.PerExperiment {
		fmt.Fprintf(&b, "  #%d (%.3f)  %s\n", wc.Index+1, wc.Reference, optional(wc.Percent, "%.2f %%"))
	}
	if s.SensorLimit != nil {
		fmt.Fprintf(&b, "%s %.2f %% (experiment %d)\n", bold("Sensor limit:"), *s.SensorLimit, s.SensorLimitIndex+1)
	} else {
		fmt.Fprintf(&b, "%s %s\n", bold("Sensor limit:"), optional(nil, ""))
	}
	return b.String()
}
