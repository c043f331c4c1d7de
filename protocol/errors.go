package protocol

import (
	"errors"
	"fmt"
)

// TransportStallError indicates the device stopped answering: a timeout,
// an empty read, or a response that did not correlate with its request.
// The session attempts exactly one resynchronization before returning it;
// once surfaced the session is no longer usable.
type TransportStallError struct {
	// Operation is the exchange that stalled
	Operation string

	// Err is the underlying transport error, if any
	Err error
}

func (e *TransportStallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport stalled after resync: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: transport stalled after resync", e.Operation)
}

func (e *TransportStallError) Unwrap() error { return e.Err }

// HandshakeFailedError indicates the session could not be opened. The
// session is left Disconnected and may be retried by the caller.
type HandshakeFailedError struct {
	Reason string
	Err    error
}

func (e *HandshakeFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake failed: %s", e.Reason)
}

func (e *HandshakeFailedError) Unwrap() error { return e.Err }

// ProtocolViolationError indicates a response of unexpected shape or an
// operation attempted in the wrong session state. Always fatal; it means
// a bug on either end, never a transient condition.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// DeviceStatusError carries a non-accepted status word from a device
// acknowledgment. Callers map it onto their own failure taxonomy
// (rejection, write failure, checksum mismatch).
type DeviceStatusError struct {
	// Operation is the command the device refused
	Operation string

	// Status is the device's status code
	Status uint32
}

func (e *DeviceStatusError) Error() string {
	return fmt.Sprintf("%s refused by device: %s (0x%02X)", e.Operation, statusName(e.Status), e.Status)
}

// IsTransportStall reports whether err is (or wraps) a TransportStallError.
func IsTransportStall(err error) bool {
	var stall *TransportStallError
	return errors.As(err, &stall)
}

// statusName returns a human-readable name for a device status code.
func statusName(status uint32) string {
	switch status {
	case StatusAccepted:
		return "accepted"
	case StatusSizeTooLarge:
		return "size too large"
	case StatusUnknownPartition:
		return "unknown partition"
	case StatusWriteFailure:
		return "write failure"
	case StatusChecksumMismatch:
		return "checksum mismatch"
	case StatusBusy:
		return "device busy"
	default:
		return fmt.Sprintf("unknown status 0x%02X", status)
	}
}
