// Package stats implements the calibration statistics: the voltage/flow
// regression, the per-experiment deviation model and the worst-case error
// figures. Every function is pure.
package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/flowlab/flowcal/pkg/calibration"
)

// Points builds the regression dataset: one (reference, voltage average)
// point per experiment that has a voltage average, then one (0, offset)
// point per recorded offset.
func Points(experiments []calibration.Experiment, offsets []float64) []calibration.Point {
	points := make([]calibration.Point, 0, len(experiments)+len(offsets))
	for _, e := range experiments {
		if e.VoltageAverage == nil {
			continue
		}
		points = append(points, calibration.Point{X: e.Reference, Y: *e.VoltageAverage})
	}
	for _, o := range offsets {
		points = append(points, calibration.Point{X: 0, Y: o, Offset: true})
	}
	return points
}

// Split returns the x and y coordinates of points.
func Split(points []calibration.Point) (xs, ys []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return xs, ys
}

// LinearRegression fits y = m*x + b by least squares. ok is false when there
// are fewer than two points, the slices differ in length, or x has zero
// variance. R2 is corr(x, y)^2 and is nil when y has zero variance.
func LinearRegression(xs, ys []float64) (calibration.Fit, bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return calibration.Fit{}, false
	}
	if constant(xs) {
		return calibration.Fit{}, false
	}

	// gonum returns (alpha, beta) for y = alpha + beta*x.
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	fit := calibration.Fit{
		Slope:     slope,
		Intercept: intercept,
		Points:    len(xs),
	}

	if !constant(ys) {
		r := stat.Correlation(xs, ys, nil)
		r2 := r * r
		if !math.IsNaN(r2) {
			fit.R2 = &r2
		}
	}
	return fit, true
}

// Line returns n evenly spaced points of the fitted line over the x range of
// xs. It returns nil for n < 2 or empty xs.
func Line(fit calibration.Fit, xs []float64, n int) []calibration.Point {
	if n < 2 || len(xs) == 0 {
		return nil
	}
	grid := make([]float64, n)
	floats.Span(grid, floats.Min(xs), floats.Max(xs))

	line := make([]calibration.Point, n)
	for i, x := range grid {
		line[i] = calibration.Point{X: x, Y: fit.Slope*x + fit.Intercept}
	}
	return line
}

// Regress builds the regression view over all experiments and offsets.
func Regress(experiments []calibration.Experiment, offsets []float64, linePoints int) calibration.Regression {
	points := Points(experiments, offsets)
	xs, ys := Split(points)

	reg := calibration.Regression{Points: points}
	fit, ok := LinearRegression(xs, ys)
	if !ok {
		reg.Message = "regression needs at least two points with distinct references"
		return reg
	}
	reg.Defined = true
	reg.Fit = &fit
	reg.Line = Line(fit, xs, linePoints)
	return reg
}
