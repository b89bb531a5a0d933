package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/daemon"
	"github.com/flowlab/flowcal/pkg/utils/ptr"
)

func init() {
	color.NoColor = true
}

func TestFormatExperimentList(t *testing.T) {
	out := formatExperimentList(&daemon.ExperimentList{
		Experiments: []calibration.Experiment{
			{Reference: 1, VoltageAverage: ptr.To(2.0), Precision: 0.1, Samples: []float64{2, 2}},
			{Reference: 2, VoltageAverage: ptr.To(4.0), FlowAverage: ptr.To(2.1), Precision: 0.2, Samples: []float64{4}},
		},
		Selection: []int{1},
		Offsets:   []float64{0.05},
		Policy:    "overwrite",
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, two rows and offsets, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "     1") || !strings.Contains(lines[1], "n/a") {
		t.Errorf("unexpected first row: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "*    2") {
		t.Errorf("selected row should be marked: %q", lines[2])
	}
	if lines[3] != "Offsets: 0.050000 V (overwrite)" {
		t.Errorf("unexpected offsets line: %q", lines[3])
	}

	if out := formatExperimentList(&daemon.ExperimentList{}); out != "No experiments stored.\n" {
		t.Errorf("unexpected empty list: %q", out)
	}
}

func TestFormatRegression(t *testing.T) {
	out := formatRegression(&calibration.Regression{
		Points: []calibration.Point{{X: 1, Y: 2}},
	})
	if !strings.Contains(out, "Regression: not enough points") {
		t.Errorf("undefined fit should be explained:\n%s", out)
	}

	out = formatRegression(&calibration.Regression{
		Defined: true,
		Fit:     &calibration.Fit{Slope: 2, Intercept: 0.5, Points: 3},
		Points:  []calibration.Point{{X: 0, Y: 0.5, Offset: true}, {X: 1, Y: 2.5}, {X: 2, Y: 4.5}},
	})
	for _, want := range []string{"(offset)", "y = 2.000000 x + 0.500000", "R²: n/a", "Points: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("regression output is missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDeviation(t *testing.T) {
	out := formatDeviation(&calibration.DeviationModel{Index: 0, Reference: 1, Mean: 2, Degenerate: true})
	if !strings.Contains(out, "degenerate") || strings.Contains(out, "Density") {
		t.Errorf("degenerate model should skip the density:\n%s", out)
	}

	out = formatDeviation(&calibration.DeviationModel{Index: 2, Reference: 3, Mean: 2, Sigma: 0.5, WorstIndex: 1, WorstDeviation: -1, Limit: 2})
	for _, want := range []string{"Experiment #3", "Worst deviation: -1.000000 (sample 2)", "Curve range:     ±2.000000"} {
		if !strings.Contains(out, want) {
			t.Errorf("deviation output is missing %q:\n%s", want, out)
		}
	}
}

func TestFormatSummary(t *testing.T) {
	out := formatSummary(&calibration.Summary{
		Experiments: 2,
		PerExperiment: []calibration.ExperimentWorstCase{
			{Index: 0, Reference: 1, Percent: ptr.To(10.0)},
			{Index: 1, Reference: 2},
		},
		SensorLimit:      ptr.To(10.0),
		SensorLimitIndex: 0,
	})
	for _, want := range []string{"Experiments: 2", "#1 (1.000)  10.00 %", "#2 (2.000)  n/a", "Sensor limit: 10.00 % (experiment 1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary is missing %q:\n%s", want, out)
		}
	}
}

func TestBuildStatusJSON(t *testing.T) {
	data := &statusData{
		link:        &daemon.LinkStatus{Connected: true, Address: "/dev/ttyUSB0", BaudRate: 9600},
		experiments: &daemon.ExperimentList{},
		console:     &daemon.ConsoleStatus{},
		config:      &config.RawFileConfig{},
	}
	b, err := json.Marshal(buildStatusJSON(data, config.NewFileFromConfig(data.config, "")))
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{`"port":"/dev/ttyUSB0"`, `"ports":[]`, `"selection":[]`, `"offsetPolicy":"overwrite"`, `"sessionTimeoutSeconds":45`} {
		if !strings.Contains(out, want) {
			t.Errorf("status JSON is missing %s: %s", want, out)
		}
	}
}
