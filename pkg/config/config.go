package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/calibration"
)

type Config interface {
	// Port is the serial port the daemon opens on startup. Empty means the
	// link stays closed until a client connects it.
	Port() string
	BaudRate() int
	// ReadTimeout bounds a single line read during a session.
	ReadTimeout() time.Duration
	// SessionTimeout is the overall session deadline, always within 30-60s.
	SessionTimeout() time.Duration
	AccuracyConvention() calibration.AccuracyConvention
	OffsetPolicy() calibration.OffsetPolicy
	// VelocityFactor converts a velocity reference into flow units.
	VelocityFactor() float64
	// PollInterval is the period of the passive console reader. Zero
	// disables it.
	PollInterval() time.Duration
	ConsoleHistory() int
	AllowNonRootAccess() bool

	SetPort(string)
	SetAccuracyConvention(calibration.AccuracyConvention)
	SetOffsetPolicy(calibration.OffsetPolicy)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
