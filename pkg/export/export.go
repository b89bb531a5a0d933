// Package export writes the calibration dataset as a plain text report: a
// tab-separated experiment table followed by a statistics block.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/stats"
)

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("no experiments to export")

const notAvailable = "n/a"

// Report is everything the text report is rendered from.
type Report struct {
	Experiments []calibration.Experiment
	Offsets     []float64
}

// Write renders r to w.
func Write(w io.Writer, r Report) error {
	if len(r.Experiments) == 0 {
		return ErrNoData
	}

	sum := stats.Summarize(r.Experiments, r.Offsets)

	var b strings.Builder
	b.WriteString("Exp\tFlujo(L/min)\tVoltaje(V)\tFlujo medido\tPrecisión\tExactitud\tMuestras\n")
	for i, e := range r.Experiments {
		fmt.Fprintf(&b, "%d\t%.3f\t%s\t%s\t%.3f\t%s\t%d\n",
			i+1,
			e.Reference,
			optional(e.VoltageAverage, "%.3f"),
			optional(e.FlowAverage, "%.3f"),
			e.Precision,
			optional(e.Accuracy, "%.3f"),
			len(e.Samples),
		)
	}

	b.WriteString("\n--- Estadísticas ---\n")
	if sum.Fit != nil {
		fmt.Fprintf(&b, "y = %.6f x + %.6f\n", sum.Fit.Slope, sum.Fit.Intercept)
		fmt.Fprintf(&b, "R² = %s\n", optional(sum.Fit.R2, "%.6f"))
		fmt.Fprintf(&b, "Puntos = %d\n", sum.Fit.Points)
	} else {
		fmt.Fprintf(&b, "y = %s\n", notAvailable)
		fmt.Fprintf(&b, "R² = %s\n", notAvailable)
	}
	fmt.Fprintf(&b, "Std (V) = %.6f\n", sum.VoltageStdDev)
	fmt.Fprintf(&b, "Max dev = %.6f V\n", sum.MaxVoltageDeviation)

	if len(r.Offsets) > 0 {
		parts := make([]string, len(r.Offsets))
		for i, o := range r.Offsets {
			parts[i] = fmt.Sprintf("%.6f", o)
		}
		fmt.Fprintf(&b, "Offset (V) = %s\n", strings.Join(parts, ", "))
	}

	b.WriteString("\n--- Peor caso ---\n")
	for _, wc := range sum.PerExperiment {
		fmt.Fprintf(&b, "Exp %d (%.3f)\t%s\n", wc.Index+1, wc.Reference, optional(wc.Percent, "%.2f %%"))
	}
	if sum.SensorLimit != nil {
		fmt.Fprintf(&b, "Límite del sensor = %.2f %% (exp %d)\n", *sum.SensorLimit, sum.SensorLimitIndex+1)
	} else {
		fmt.Fprintf(&b, "Límite del sensor = %s\n", notAvailable)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile renders r into the file at path, replacing it.
func WriteFile(path string, r Report) error {
	if len(r.Experiments) == 0 {
		return ErrNoData
	}

	fp, err := os.Create(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	if err := Write(fp, r); err != nil {
		return pkgerrors.Wrapf(err, "failed to write report to %s", path)
	}
	return nil
}

func optional(p *float64, format string) string {
	if p == nil {
		return notAvailable
	}
	return fmt.Sprintf(format, *p)
}
