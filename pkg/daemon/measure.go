package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/events"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/session"
	"github.com/flowlab/flowcal/pkg/store"
)

// ErrSessionRunning is returned while another measurement owns the link.
var ErrSessionRunning = errors.New("a measurement session is already running")

// sessionRunning is set for the whole lifetime of a session, including the
// wait for linkMu.
var sessionRunning atomic.Bool

// measure runs one session for reference and stores its outcome. Errors never
// modify the store.
func measure(ctx context.Context, reference float64) (*calibration.SessionResult, error) {
	if !sessionRunning.CompareAndSwap(false, true) {
		return nil, ErrSessionRunning
	}
	defer sessionRunning.Store(false)

	linkMu.Lock()
	defer linkMu.Unlock()

	s := session.New(conn,
		session.WithReadTimeout(conf.ReadTimeout()),
		session.WithTimeout(conf.SessionTimeout()),
		session.WithAccuracyConvention(conf.AccuracyConvention()),
		session.WithEcho(func(line string) { recordConsoleLine(line, false) }),
		session.WithPhaseObserver(publishPhase),
	)

	id := uuid.NewString()
	start := time.Now()
	res, err := s.Run(ctx, reference)
	metricSessionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metricSessions.WithLabelValues("error").Inc()
		logrus.WithFields(logrus.Fields{
			"session":   id,
			"reference": reference,
			"status":    sessionErrorStatus(err),
		}).WithError(err).Warn("measurement failed")
		return nil, err
	}
	res.ID = id

	now := time.Now().Unix()
	switch res.Phase {
	case calibration.PhaseCollected:
		metricSessions.WithLabelValues("experiment").Inc()
		res.Index = dataset.Append(*res.Experiment)
		sseHub.Publish(events.ExperimentAppended, events.ExperimentAppendedEvent{
			Index:     res.Index,
			Reference: res.Experiment.Reference,
			Samples:   len(res.Experiment.Samples),
			Ts:        now,
		})
	case calibration.PhaseOffset:
		metricSessions.WithLabelValues("offset").Inc()
		res.Index = -1
		dataset.RecordOffset(*res.Offset)
		sseHub.Publish(events.OffsetRecorded, events.OffsetRecordedEvent{
			Offset:  *res.Offset,
			Offsets: dataset.Offsets(),
			Ts:      now,
		})
	}
	logrus.WithFields(logrus.Fields{
		"session":   id,
		"reference": reference,
		"phase":     res.Phase,
		"index":     res.Index,
	}).Info("measurement finished")
	return res, nil
}

func publishPhase(from, to calibration.Phase, err error) {
	ev := events.SessionPhaseEvent{
		From: string(from),
		To:   string(to),
		Ts:   time.Now().Unix(),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	sseHub.Publish(events.SessionPhase, ev)
}

// sessionErrorStatus maps a measurement error to the HTTP status the daemon
// answers with.
func sessionErrorStatus(err error) int {
	var (
		writeErr      *session.LinkWriteError
		readErr       *session.LinkReadError
		incompleteErr *session.IncompleteResponseError
	)
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, link.ErrNotConnected):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrSessionRunning):
		return http.StatusConflict
	case errors.As(err, &writeErr), errors.As(err, &readErr):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &incompleteErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrInvalidIndex):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// openLink (re)opens conn on port with the configured baud rate. The caller
// must not hold linkMu.
func openLink(port string) error {
	linkMu.Lock()
	defer linkMu.Unlock()

	if conn.IsConnected() {
		if err := conn.Disconnect(); err != nil {
			logrus.WithError(err).Warnf("failed to close %s", conn.Address())
		}
	}
	conn = newLink(conf.BaudRate())
	if err := conn.Connect(port); err != nil {
		return err
	}

	sseHub.Publish(events.LinkState, events.LinkStateEvent{
		Connected: true,
		Address:   conn.Address(),
		Ts:        time.Now().Unix(),
	})
	return nil
}

func closeLink() error {
	linkMu.Lock()
	defer linkMu.Unlock()

	if !conn.IsConnected() {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return err
	}
	sseHub.Publish(events.LinkState, events.LinkStateEvent{Ts: time.Now().Unix()})
	return nil
}

// sendRaw writes a console command to the device.
func sendRaw(text string) error {
	if sessionRunning.Load() {
		return ErrSessionRunning
	}
	linkMu.Lock()
	defer linkMu.Unlock()

	if !conn.IsConnected() {
		return link.ErrNotConnected
	}
	if err := conn.WriteLine(text); err != nil {
		return err
	}
	recordConsoleLine(text, true)
	return nil
}
