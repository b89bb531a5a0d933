// Package session drives one request/response exchange with the flow sensor.
//
// A Session writes a reference value to the Link and then folds every line
// the device sends back into an accumulator until a terminator line arrives or
// the overall timeout elapses. Reads are bounded by a short per-read timeout,
// so the context is checked between reads.
package session

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/protocol"
)

const (
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultTimeout     = 45 * time.Second
	MinTimeout         = 30 * time.Second
	MaxTimeout         = 60 * time.Second
)

// EchoFunc receives every non-empty line read during a session.
type EchoFunc func(line string)

// PhaseFunc is notified of every phase transition.
type PhaseFunc func(from, to calibration.Phase, err error)

// Session runs measurement exchanges over a Link. It is not safe for
// concurrent use; callers must not start a Run while another is collecting.
type Session struct {
	link        link.Link
	readTimeout time.Duration
	timeout     time.Duration
	convention  calibration.AccuracyConvention
	now         func() time.Time
	echo        EchoFunc
	onPhase     PhaseFunc

	phase calibration.Phase
}

// Option configures a Session.
type Option func(*Session)

// WithReadTimeout sets the per-read timeout slice.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithTimeout sets the overall collecting timeout. Values outside
// [MinTimeout, MaxTimeout] are clamped.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = ClampTimeout(d) }
}

// WithAccuracyConvention selects how accuracy is derived.
func WithAccuracyConvention(c calibration.AccuracyConvention) Option {
	return func(s *Session) { s.convention = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithEcho sets the console echo callback.
func WithEcho(f EchoFunc) Option {
	return func(s *Session) { s.echo = f }
}

// WithPhaseObserver sets the phase transition callback.
func WithPhaseObserver(f PhaseFunc) Option {
	return func(s *Session) { s.onPhase = f }
}

// ClampTimeout bounds d to [MinTimeout, MaxTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// New returns an idle Session.
func New(l link.Link, opts ...Option) *Session {
	s := &Session{
		link:        l,
		readTimeout: DefaultReadTimeout,
		timeout:     DefaultTimeout,
		convention:  calibration.AccuracyAbsolute,
		now:         time.Now,
		phase:       calibration.PhaseIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Phase returns the phase of the last or current run.
func (s *Session) Phase() calibration.Phase {
	return s.phase
}

func (s *Session) transition(to calibration.Phase, err error) {
	from := s.phase
	s.phase = to
	if from == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"from":      from,
		"to":        to,
		"operation": "session",
	}).Debug("session phase changed")
	if s.onPhase != nil {
		s.onPhase(from, to, err)
	}
}

func (s *Session) fail(err error) (*calibration.SessionResult, error) {
	s.transition(calibration.PhaseError, err)
	return nil, err
}

// accumulator collects one response. Stats overwrite earlier values of the
// same stat within a run.
type accumulator struct {
	samples []float64
	stats   map[protocol.Stat]float64
	lines   []string
}

func (a *accumulator) stat(k protocol.Stat) (float64, bool) {
	v, ok := a.stats[k]
	return v, ok
}

// Run sends reference and collects the device response. It returns either a
// result holding a new Experiment (PhaseCollected) or an offset reading
// (PhaseOffset). Nothing is returned on error.
func (s *Session) Run(ctx context.Context, reference float64) (*calibration.SessionResult, error) {
	s.phase = calibration.PhaseIdle

	if math.IsNaN(reference) || math.IsInf(reference, 0) {
		return s.fail(ErrInvalidInput)
	}
	if s.link == nil || !s.link.IsConnected() {
		return s.fail(ErrNotConnected)
	}

	log := logrus.WithFields(logrus.Fields{
		"reference": reference,
		"operation": "session",
	})

	if err := s.link.ClearInputBuffer(); err != nil {
		log.WithError(err).Warn("failed to clear input buffer before sending reference")
	}
	if err := s.link.WriteLine(protocol.FormatReference(reference)); err != nil {
		return s.fail(&LinkWriteError{Err: err})
	}

	start := s.now()
	s.transition(calibration.PhaseCollecting, nil)
	log.Info("reference sent, collecting device response")

	acc := &accumulator{stats: map[protocol.Stat]float64{}}
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}
		if s.now().Sub(start) > s.timeout {
			log.WithField("samples", len(acc.samples)).Warn("no terminator received before timeout")
			return s.fail(ErrTimeout)
		}

		line, err := s.link.ReadLine(s.readTimeout)
		if err != nil {
			return s.fail(&LinkReadError{Err: err})
		}

		tok := protocol.Classify(line)
		if tok.Kind == protocol.KindEmpty {
			continue
		}
		acc.lines = append(acc.lines, tok.Line)
		if s.echo != nil {
			s.echo(tok.Line)
		}

		switch tok.Kind {
		case protocol.KindSample:
			acc.samples = append(acc.samples, tok.Value)
		case protocol.KindStat:
			if tok.HasValue {
				acc.stats[tok.Stat] = tok.Value
			}
		case protocol.KindTerminator:
			if tok.HasValue {
				acc.stats[tok.Stat] = tok.Value
			}
			elapsed := s.now().Sub(start)
			if tok.Stat == protocol.StatOffset {
				return s.finishOffset(acc, elapsed)
			}
			return s.finishExperiment(reference, acc, elapsed)
		default:
			log.WithField("line", tok.Line).Trace("ignoring unclassified line")
		}
	}
}

func (s *Session) finishOffset(acc *accumulator, elapsed time.Duration) (*calibration.SessionResult, error) {
	v, ok := acc.stat(protocol.StatOffset)
	if !ok {
		return s.fail(&IncompleteResponseError{Missing: []string{"offset"}})
	}
	s.transition(calibration.PhaseOffset, nil)
	logrus.WithField("offset", v).Info("device reported offset")
	return &calibration.SessionResult{
		Phase:    calibration.PhaseOffset,
		Offset:   &v,
		Lines:    acc.lines,
		Duration: elapsed,
	}, nil
}

func (s *Session) finishExperiment(reference float64, acc *accumulator, elapsed time.Duration) (*calibration.SessionResult, error) {
	var missing []string
	precision, hasPrecision := acc.stat(protocol.StatPrecision)
	if !hasPrecision {
		missing = append(missing, "precision")
	}
	flow, hasFlow := acc.stat(protocol.StatFlowAverage)
	if !hasFlow && len(acc.samples) == 0 {
		missing = append(missing, "flow average or samples")
	}
	if len(missing) > 0 {
		return s.fail(&IncompleteResponseError{Missing: missing})
	}

	exp := calibration.Experiment{
		Reference: reference,
		Precision: precision,
		Samples:   acc.samples,
		CreatedAt: s.now(),
	}
	if exp.Samples == nil {
		exp.Samples = []float64{}
	}
	if hasFlow {
		exp.FlowAverage = &flow
	}
	if v, ok := acc.stat(protocol.StatVoltageAverage); ok {
		exp.VoltageAverage = &v
	} else if len(acc.samples) > 0 {
		m := stat.Mean(acc.samples, nil)
		exp.VoltageAverage = &m
	}
	if v, ok := acc.stat(protocol.StatAccuracy); ok {
		exp.Accuracy = &v
	} else if hasFlow {
		exp.Accuracy = DeriveAccuracy(s.convention, reference, flow)
	}

	s.transition(calibration.PhaseCollected, nil)
	logrus.WithFields(logrus.Fields{
		"reference": reference,
		"samples":   len(exp.Samples),
		"precision": precision,
		"elapsed":   elapsed,
	}).Info("experiment collected")

	return &calibration.SessionResult{
		Phase:      calibration.PhaseCollected,
		Experiment: &exp,
		Lines:      acc.lines,
		Duration:   elapsed,
	}, nil
}

// DeriveAccuracy computes accuracy from the reference and the device flow
// average. Relative accuracy is undefined (nil) for a zero reference.
func DeriveAccuracy(c calibration.AccuracyConvention, reference, flowAverage float64) *float64 {
	diff := math.Abs(reference - flowAverage)
	if c == calibration.AccuracyRelative {
		if reference == 0 {
			return nil
		}
		diff = diff / math.Abs(reference) * 100
	}
	return &diff
}
