package calibration

import (
	"fmt"
	"time"
)

// Phase defines the states of one measurement session.
type Phase string

const (
	PhaseIdle       Phase = "Idle"
	PhaseCollecting Phase = "Collecting"
	PhaseCollected  Phase = "Collected"
	PhaseOffset     Phase = "OffsetResult"
	PhaseError      Phase = "Error"
)

// AccuracyConvention selects how accuracy is derived when the device does not
// report it.
type AccuracyConvention string

const (
	// AccuracyAbsolute is |reference - flowAverage| in flow units.
	AccuracyAbsolute AccuracyConvention = "absolute"
	// AccuracyRelative is |reference - flowAverage| / |reference| * 100.
	AccuracyRelative AccuracyConvention = "relative"
)

// ParseAccuracyConvention validates s.
func ParseAccuracyConvention(s string) (AccuracyConvention, error) {
	switch c := AccuracyConvention(s); c {
	case AccuracyAbsolute, AccuracyRelative:
		return c, nil
	}
	return "", fmt.Errorf("unknown accuracy convention %q, must be %q or %q", s, AccuracyAbsolute, AccuracyRelative)
}

// OffsetPolicy decides what happens to earlier offset readings when a new one
// arrives.
type OffsetPolicy string

const (
	// OffsetOverwrite keeps only the latest offset reading.
	OffsetOverwrite OffsetPolicy = "overwrite"
	// OffsetAccumulate keeps every offset reading as its own (0, v) point.
	OffsetAccumulate OffsetPolicy = "accumulate"
)

// ParseOffsetPolicy validates s.
func ParseOffsetPolicy(s string) (OffsetPolicy, error) {
	switch p := OffsetPolicy(s); p {
	case OffsetOverwrite, OffsetAccumulate:
		return p, nil
	}
	return "", fmt.Errorf("unknown offset policy %q, must be %q or %q", s, OffsetOverwrite, OffsetAccumulate)
}

// Experiment is one completed measurement run. Optional device figures are
// nil when the device did not report them and they could not be derived.
type Experiment struct {
	Reference      float64   `json:"reference"`
	FlowAverage    *float64  `json:"flowAverage,omitempty"`
	VoltageAverage *float64  `json:"voltageAverage,omitempty"`
	Precision      float64   `json:"precision"`
	Accuracy       *float64  `json:"accuracy,omitempty"`
	Samples        []float64 `json:"samples"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers can never alias store internals.
func (e Experiment) Clone() Experiment {
	c := e
	c.FlowAverage = cloneFloat(e.FlowAverage)
	c.VoltageAverage = cloneFloat(e.VoltageAverage)
	c.Accuracy = cloneFloat(e.Accuracy)
	if e.Samples != nil {
		c.Samples = append([]float64(nil), e.Samples...)
	}
	return c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Point is one (reference, voltage) pair used for regression.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Offset marks the (0, offset) calibration-zero point.
	Offset bool `json:"offset,omitempty"`
}

// Fit is a least-squares line y = Slope*x + Intercept.
type Fit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	// R2 is nil when y has zero variance.
	R2     *float64 `json:"r2,omitempty"`
	Points int      `json:"points"`
}

// Regression is the view returned by the daemon's /regression API.
type Regression struct {
	Defined bool    `json:"defined"`
	Fit     *Fit    `json:"fit,omitempty"`
	Points  []Point `json:"points"`
	Line    []Point `json:"line,omitempty"`
	Message string  `json:"message,omitempty"`
}

// DeviationModel describes how one experiment's samples spread around their
// mean. Curve is empty when the model is degenerate (sigma == 0).
type DeviationModel struct {
	Index          int       `json:"index"`
	Reference      float64   `json:"reference"`
	Mean           float64   `json:"mean"`
	Sigma          float64   `json:"sigma"`
	Deviations     []float64 `json:"deviations"`
	WorstIndex     int       `json:"worstIndex"`
	WorstDeviation float64   `json:"worstDeviation"`
	WorstDensity   float64   `json:"worstDensity"`
	Limit          float64   `json:"limit"`
	Degenerate     bool      `json:"degenerate"`
	Curve          []Point   `json:"curve,omitempty"`
}

// ExperimentWorstCase is the worst relative deviation of one experiment.
type ExperimentWorstCase struct {
	Index     int     `json:"index"`
	Reference float64 `json:"reference"`
	// Percent is nil when the sample mean is zero or there are no samples.
	Percent *float64 `json:"percent,omitempty"`
}

// Summary aggregates error bounds across every stored experiment.
type Summary struct {
	Experiments   int                   `json:"experiments"`
	Offsets       []float64             `json:"offsets,omitempty"`
	Fit           *Fit                  `json:"fit,omitempty"`
	PerExperiment []ExperimentWorstCase `json:"perExperiment"`
	// SensorLimit is the worst relative deviation across all experiments.
	SensorLimit      *float64 `json:"sensorLimit,omitempty"`
	SensorLimitIndex int      `json:"sensorLimitIndex"`
	// VoltageStdDev and MaxVoltageDeviation are computed over the voltage
	// averages of all experiments.
	VoltageStdDev       float64 `json:"voltageStdDev"`
	MaxVoltageDeviation float64 `json:"maxVoltageDeviation"`
}

// SessionResult is what a finished session returns to the caller. Exactly one
// of Experiment and Offset is set.
type SessionResult struct {
	// ID identifies the session in daemon logs.
	ID         string      `json:"id,omitempty"`
	Phase      Phase       `json:"phase"`
	Experiment *Experiment `json:"experiment,omitempty"`
	Offset     *float64    `json:"offset,omitempty"`
	// Index is the store index of Experiment after it was appended.
	Index    int           `json:"index"`
	Lines    []string      `json:"lines,omitempty"`
	Duration time.Duration `json:"duration"`
}
