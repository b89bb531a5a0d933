package daemon

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/events"
)

// maxLinesPerPoll bounds how long one poll may hold the link.
const maxLinesPerPoll = 64

// ConsoleLine is one line seen on, or written to, the serial console.
type ConsoleLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
	Sent bool      `json:"sent,omitempty"`
}

// ConsoleRecorder keeps the last N console lines and a running average of
// every numeric line received since the last Clear.
type ConsoleRecorder struct {
	MaxRecordCount int
	lines          []ConsoleLine
	sum            float64
	count          int
	mu             *sync.Mutex
}

// NewConsoleRecorder returns a new ConsoleRecorder.
func NewConsoleRecorder(maxRecordCount int) *ConsoleRecorder {
	if maxRecordCount <= 0 {
		maxRecordCount = 1
	}
	return &ConsoleRecorder{
		MaxRecordCount: maxRecordCount,
		lines:          make([]ConsoleLine, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a line seen at t. Received numeric lines feed the average.
func (r *ConsoleRecorder) AddRecord(t time.Time, text string, sent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.lines) >= r.MaxRecordCount {
		r.lines = r.lines[len(r.lines)-r.MaxRecordCount+1:]
	}
	r.lines = append(r.lines, ConsoleLine{Time: t, Text: text, Sent: sent})

	if sent {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	r.sum += v
	r.count++
}

// AddRecordNow adds a line with the current time.
func (r *ConsoleRecorder) AddRecordNow(text string, sent bool) {
	r.AddRecord(time.Now(), text, sent)
}

// GetRecords returns a copy of the kept lines, oldest first.
func (r *ConsoleRecorder) GetRecords() []ConsoleLine {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ConsoleLine{}, r.lines...)
}

// Average returns the mean of every numeric line and how many there were.
// ok is false before the first numeric line.
func (r *ConsoleRecorder) Average() (avg float64, count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0, 0, false
	}
	return r.sum / float64(r.count), r.count, true
}

// Resize changes how many lines are kept, dropping the oldest if needed.
func (r *ConsoleRecorder) Resize(maxRecordCount int) {
	if maxRecordCount <= 0 {
		maxRecordCount = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.MaxRecordCount = maxRecordCount
	if len(r.lines) > maxRecordCount {
		r.lines = r.lines[len(r.lines)-maxRecordCount:]
	}
}

// ClearRecords drops all lines and resets the average.
func (r *ConsoleRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = make([]ConsoleLine, 0)
	r.sum = 0
	r.count = 0
}

func recordConsoleLine(text string, sent bool) {
	direction := "received"
	if sent {
		direction = "sent"
	}
	metricConsoleLines.WithLabelValues(direction).Inc()
	console.AddRecordNow(text, sent)
	sseHub.Publish(events.ConsoleLine, events.ConsoleLineEvent{
		Line: text,
		Sent: sent,
		Ts:   time.Now().Unix(),
	})
}

// consoleLoop reads unsolicited device output until ctx is done. It never
// waits for the link: while a session or a client holds it, the tick is
// skipped.
func consoleLoop(ctx context.Context) {
	for {
		interval := conf.PollInterval()
		if interval <= 0 {
			// disabled; check again later in case the config is reloaded
			interval = time.Second
		} else {
			pollConsole(conf.ReadTimeout())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// pollConsole drains pending lines from the link. It returns the number of
// lines read.
func pollConsole(readTimeout time.Duration) int {
	if sessionRunning.Load() {
		return 0
	}
	if !linkMu.TryLock() {
		return 0
	}
	defer linkMu.Unlock()

	if !conn.IsConnected() {
		return 0
	}

	n := 0
	for n < maxLinesPerPoll {
		line, err := conn.ReadLine(readTimeout)
		if err != nil {
			logrus.WithError(err).Warn("failed to read from serial link")
			return n
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return n
		}
		recordConsoleLine(line, false)
		n++
	}
	return n
}
