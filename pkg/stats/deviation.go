package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/flowlab/flowcal/pkg/calibration"
)

// CurvePoints is the resolution of the density curve.
const CurvePoints = 300

// Deviation builds the Gaussian deviation model of one experiment's samples:
// population sigma, every sample's deviation from the mean, the worst
// deviation, and a relative density curve exp(-0.5*(d/sigma)^2) over
// [-L, L] with L = max(4*sigma, max|d|). With sigma == 0 the model is
// degenerate and has no curve. ok is false for no samples.
func Deviation(samples []float64) (calibration.DeviationModel, bool) {
	if len(samples) == 0 {
		return calibration.DeviationModel{}, false
	}

	mean, sigma := stat.PopMeanStdDev(samples, nil)

	deviations := make([]float64, len(samples))
	copy(deviations, samples)
	floats.AddConst(-mean, deviations)

	worst := 0
	for i, d := range deviations {
		if math.Abs(d) > math.Abs(deviations[worst]) {
			worst = i
		}
	}
	maxAbs := math.Abs(deviations[worst])

	m := calibration.DeviationModel{
		Mean:           mean,
		Sigma:          sigma,
		Deviations:     deviations,
		WorstIndex:     worst,
		WorstDeviation: deviations[worst],
		Limit:          math.Max(4*sigma, maxAbs),
	}

	if constant(samples) || sigma == 0 || math.IsNaN(sigma) {
		m.Sigma = 0
		m.Degenerate = true
		return m, true
	}

	m.WorstDensity = density(m.WorstDeviation, sigma)

	xs := make([]float64, CurvePoints)
	floats.Span(xs, -m.Limit, m.Limit)
	m.Curve = make([]calibration.Point, CurvePoints)
	for i, x := range xs {
		m.Curve[i] = calibration.Point{X: x, Y: density(x, sigma)}
	}
	return m, true
}

// constant reports whether every value is identical. Rounding in the mean can
// leave a tiny non-zero sigma for such input.
func constant(xs []float64) bool {
	return floats.Min(xs) == floats.Max(xs)
}

func density(d, sigma float64) float64 {
	z := d / sigma
	return math.Exp(-0.5 * z * z)
}

// WorstRelativeDeviation returns max|s - mean| / |mean| * 100. ok is false
// for no samples or a zero mean.
func WorstRelativeDeviation(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	mean := stat.Mean(samples, nil)
	if mean == 0 {
		return 0, false
	}
	worst := 0.0
	for _, s := range samples {
		worst = math.Max(worst, math.Abs(s-mean))
	}
	return worst / math.Abs(mean) * 100, true
}

// Summarize aggregates error bounds across experiments: the regression fit
// over all points, each experiment's worst relative deviation, the maximum of
// those (the sensor limit), and the spread of the voltage averages.
func Summarize(experiments []calibration.Experiment, offsets []float64) calibration.Summary {
	sum := calibration.Summary{
		Experiments:      len(experiments),
		Offsets:          offsets,
		PerExperiment:    make([]calibration.ExperimentWorstCase, 0, len(experiments)),
		SensorLimitIndex: -1,
	}

	points := Points(experiments, offsets)
	xs, ys := Split(points)
	if fit, ok := LinearRegression(xs, ys); ok {
		sum.Fit = &fit
	}

	for i, e := range experiments {
		wc := calibration.ExperimentWorstCase{Index: i, Reference: e.Reference}
		if pct, ok := WorstRelativeDeviation(e.Samples); ok {
			wc.Percent = &pct
			if sum.SensorLimit == nil || pct > *sum.SensorLimit {
				limit := pct
				sum.SensorLimit = &limit
				sum.SensorLimitIndex = i
			}
		}
		sum.PerExperiment = append(sum.PerExperiment, wc)
	}

	var volts []float64
	for _, e := range experiments {
		if e.VoltageAverage != nil {
			volts = append(volts, *e.VoltageAverage)
		}
	}
	if len(volts) > 1 {
		mean, std := stat.PopMeanStdDev(volts, nil)
		sum.VoltageStdDev = std
		for _, v := range volts {
			sum.MaxVoltageDeviation = math.Max(sum.MaxVoltageDeviation, math.Abs(v-mean))
		}
	}
	return sum
}
