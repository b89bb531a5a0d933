// Package link provides the line transport used to talk to the flow sensor.
package link

import (
	"errors"
	"time"
)

// ErrNotConnected is returned by I/O on a link that is not open.
var ErrNotConnected = errors.New("link not connected")

// Link is the capability a measurement session needs from a transport.
type Link interface {
	// WriteLine writes text followed by a newline.
	WriteLine(text string) error
	// ReadLine blocks for at most timeout and returns one line without its
	// terminator. An empty line and a nil error mean nothing arrived in time.
	ReadLine(timeout time.Duration) (string, error)
	// IsConnected reports whether the link is open.
	IsConnected() bool
	// ClearInputBuffer drops anything received but not yet read.
	ClearInputBuffer() error
}

// Conn is a Link that can also be opened and closed.
type Conn interface {
	Link
	Connect(address string) error
	Disconnect() error
	// Address returns the address of the open link, or "" if closed.
	Address() string
}
