package protocol

import (
	"errors"
	"time"
)

// Transport is the byte-oriented channel to a device in download mode.
// Obtaining one (USB enumeration, endpoint claiming) is outside this
// package; the session only needs bounded reads and writes.
//
// Implementations map their platform's timeout and disconnect conditions
// onto errors wrapping ErrTimeout and ErrDisconnected respectively.
type Transport interface {
	// Read reads up to len(p) bytes, blocking at most timeout.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write writes p, blocking at most timeout. Short writes are errors.
	Write(p []byte, timeout time.Duration) (int, error)

	// Reset clears any half-transferred state on the channel. Used once
	// per stalled exchange before the request is resent.
	Reset() error
}

// ErrTimeout is wrapped by transport errors caused by an expired I/O
// deadline.
var ErrTimeout = errors.New("transport timeout")

// ErrDisconnected is wrapped by transport errors caused by the device
// leaving the bus.
var ErrDisconnected = errors.New("transport disconnected")
