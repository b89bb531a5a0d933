package link

import (
	"bytes"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the sensor firmware talks at.
const DefaultBaudRate = 9600

// openPort is a test seam; defaults to serial.Open.
var openPort = serial.Open

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list serial ports")
	}
	return ports, nil
}

var _ Conn = &Serial{}

// Serial is a Conn backed by a serial port.
type Serial struct {
	mu       sync.Mutex
	port     serial.Port
	address  string
	baudRate int
	// pending holds bytes received after the last complete line.
	pending []byte
}

// NewSerial returns a closed serial link. A non-positive baudRate selects
// DefaultBaudRate.
func NewSerial(baudRate int) *Serial {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{baudRate: baudRate}
}

// Connect opens address, closing any port that is already open.
func (s *Serial) Connect(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		if err := s.port.Close(); err != nil {
			logrus.WithError(err).WithField("port", s.address).Warn("failed to close previous serial port")
		}
		s.port = nil
		s.address = ""
	}

	p, err := openPort(address, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open serial port %s", address)
	}

	s.port = p
	s.address = address
	s.pending = nil

	logrus.WithFields(logrus.Fields{
		"port":     address,
		"baudRate": s.baudRate,
	}).Info("serial port connected")

	return nil
}

// Disconnect closes the port. Closing a closed link is a no-op.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	logrus.WithField("port", s.address).Info("serial port disconnected")
	s.port = nil
	s.address = ""
	s.pending = nil
	if err != nil {
		return pkgerrors.Wrap(err, "failed to close serial port")
	}
	return nil
}

func (s *Serial) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) ClearInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	s.pending = nil
	if err := s.port.ResetInputBuffer(); err != nil {
		return pkgerrors.Wrap(err, "failed to reset input buffer")
	}
	return nil
}

func (s *Serial) WriteLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}

	logrus.WithField("data", text).Trace("writing line to serial port")

	b := []byte(text + "\n")
	for len(b) > 0 {
		n, err := s.port.Write(b)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to write to serial port %s", s.address)
		}
		b = b[n:]
	}
	return nil
}

// ReadLine reads until a newline or until timeout elapses. A partial line
// that is still incomplete at the deadline is kept for the next call.
func (s *Serial) ReadLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", ErrNotConnected
	}

	if line, ok := s.takeLine(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return "", pkgerrors.Wrap(err, "failed to set read timeout")
		}
		n, err := s.port.Read(chunk)
		if err != nil {
			return "", pkgerrors.Wrapf(err, "failed to read from serial port %s", s.address)
		}
		if n == 0 {
			// Read timed out.
			return "", nil
		}
		s.pending = append(s.pending, chunk[:n]...)
		if line, ok := s.takeLine(); ok {
			return line, nil
		}
	}
}

// takeLine pops the first complete line from pending. The caller holds s.mu.
func (s *Serial) takeLine() (string, bool) {
	idx := bytes.IndexByte(s.pending, '\n')
	if idx < 0 {
		return "", false
	}
	raw := s.pending[:idx]
	s.pending = append([]byte(nil), s.pending[idx+1:]...)

	line := strings.TrimRight(string(raw), "\r")
	line = strings.ToValidUTF8(line, "")
	logrus.WithField("data", line).Trace("read line from serial port")
	return line, true
}
